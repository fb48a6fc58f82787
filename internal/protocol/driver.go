package protocol

import (
	"os"
	"strconv"

	"github.com/y3owk1n/kioku/internal/cache"
	"github.com/y3owk1n/kioku/internal/infra/clock"
	"go.uber.org/zap"
)

// RelativeExptimeCutoff is the largest wire exptime treated as an interval
// relative to now; anything above it is absolute unixtime seconds.
const RelativeExptimeCutoff = 60 * 60 * 24 * 30

// TransportStats is a snapshot of one or all transports' byte counters.
// The server sums the per-connection snapshots and hands the total to the
// driver before each command, so `stats` can report them.
type TransportStats struct {
	BytesRead    uint64
	BytesWritten uint64
}

// driverStats are the counters owned by the driver itself; the cache
// engine owns the hit/miss/eviction counters.
type driverStats struct {
	cmdGet      uint64
	cmdSet      uint64
	cmdFlush    uint64
	cmdTouch    uint64
	incrHits    uint64
	incrMisses  uint64
	decrHits    uint64
	decrMisses  uint64
	casHits     uint64
	casMisses   uint64
	casBadval   uint64
	touchHits   uint64
	touchMisses uint64
}

// Driver executes parsed commands against the cache engine and produces
// responses. It is single-threaded by design: the server serialises all
// commands through one driver goroutine.
type Driver struct {
	cache          *cache.Cache
	clock          clock.Clock
	logger         *zap.Logger
	version        string
	timeStart      float64
	stats          driverStats
	transportStats TransportStats
}

// NewDriver creates a driver owning the given cache engine.
func NewDriver(c *cache.Cache, clk clock.Clock, version string, logger *zap.Logger) *Driver {
	return &Driver{
		cache:     c,
		clock:     clk,
		logger:    logger,
		version:   version,
		timeStart: clk.Now(),
	}
}

// Run executes one command and returns its response.
func (d *Driver) Run(cmd Cmd) Resp {
	switch cmd := cmd.(type) {
	case Get:
		return d.doGet(cmd)
	case Set:
		return d.doSet(cmd)
	case Inc:
		return d.doInc(cmd)
	case Delete:
		return d.doDelete(cmd)
	case Touch:
		return d.doTouch(cmd)
	case FlushAll:
		return d.doFlushAll(cmd)
	case Stats:
		return d.doStats()
	case Version:
		return VersionInfo{Version: d.version}
	case Quit:
		// The transport owner interprets Empty after a quit as "close"
		return Empty
	default:
		return Error
	}
}

// UpdateTransportStats replaces the driver's view of the summed transport
// byte counters.
func (d *Driver) UpdateTransportStats(stats TransportStats) {
	d.transportStats = stats
}

// maybeReply suppresses the response for noreply commands. Errors are
// suppressed too: a noreply client cannot tell Stored from NotStored from
// Error.
func maybeReply(noreply bool, resp Resp) Resp {
	if noreply {
		return Empty
	}

	return resp
}

// errorResp maps cache errors to wire responses.
func (d *Driver) errorResp(err error) Resp {
	switch {
	case cache.IsKeyTooLong(err):
		return ClientError{Msg: "bad command line format"}
	case cache.IsValueTooLong(err):
		return ServerError{Msg: "object too large for cache"}
	default:
		d.logger.Error("cache operation failed", zap.Error(err))

		return Error
	}
}

// convertExptime maps a wire exptime to an absolute timestamp: zero means
// unset, values beyond the cutoff are already absolute, small values are
// relative to now.
func (d *Driver) convertExptime(exptime uint32) float64 {
	if exptime == 0 {
		return cache.Unset
	}

	if exptime > RelativeExptimeCutoff {
		return float64(exptime)
	}

	return d.clock.Now() + float64(exptime)
}

// newRecord builds a fresh record from a storage command.
func (d *Driver) newRecord(set Set) *cache.Value {
	v := cache.NewValue(set.Data, set.Flags)

	if exptime := d.convertExptime(set.Exptime); exptime >= 0 {
		v.SetExptime(exptime)
	}

	return v
}

func (d *Driver) doGet(get Get) Resp {
	d.stats.cmdGet++

	items := make([]Value, 0, len(get.Keys))

	for _, key := range get.Keys {
		v, err := d.cache.Get(key)
		if err != nil {
			if cache.IsNotFound(err) {
				// Misses are silently omitted from the reply
				continue
			}

			return d.errorResp(err)
		}

		item := Value{Key: key, Flags: v.Flags(), Data: v.Data()}
		if get.Instr == InstrGets {
			item.CasUnique = v.CasID()
		}

		items = append(items, item)
	}

	return Values{Items: items, WithCas: get.Instr == InstrGets}
}

func (d *Driver) doSet(set Set) Resp {
	d.stats.cmdSet++

	var resp Resp

	switch set.Instr {
	case InstrSet:
		resp = d.doStore(set)
	case InstrAdd:
		resp = d.doAdd(set)
	case InstrReplace:
		resp = d.doReplace(set)
	case InstrAppend, InstrPrepend:
		resp = d.doConcat(set)
	case InstrCas:
		resp = d.doCas(set)
	default:
		resp = Error
	}

	return maybeReply(set.Noreply, resp)
}

func (d *Driver) doStore(set Set) Resp {
	err := d.cache.Set(set.Key, d.newRecord(set))
	if err != nil {
		return d.errorResp(err)
	}

	return Stored
}

func (d *Driver) doAdd(set Set) Resp {
	present, err := d.cache.Contains(set.Key)
	if err != nil {
		return d.errorResp(err)
	}

	if present {
		return NotStored
	}

	return d.doStore(set)
}

func (d *Driver) doReplace(set Set) Resp {
	present, err := d.cache.Contains(set.Key)
	if err != nil {
		return d.errorResp(err)
	}

	if !present {
		return NotStored
	}

	return d.doStore(set)
}

// doConcat handles append and prepend: take the record out, grow the
// payload, put it back. The record keeps its own flags and exptime; only
// the data changes.
func (d *Driver) doConcat(set Set) Resp {
	v, err := d.cache.Remove(set.Key)
	if err != nil {
		if cache.IsNotFound(err) {
			return NotStored
		}

		return d.errorResp(err)
	}

	if set.Instr == InstrAppend {
		v.SetData(append(v.Data(), set.Data...))
	} else {
		grown := make([]byte, 0, len(set.Data)+v.Len())
		grown = append(grown, set.Data...)
		grown = append(grown, v.Data()...)
		v.SetData(grown)
	}

	err = d.cache.Set(set.Key, v)
	if err != nil {
		return d.errorResp(err)
	}

	return Stored
}

func (d *Driver) doCas(set Set) Resp {
	v, err := d.cache.Get(set.Key)
	if err != nil {
		if cache.IsNotFound(err) {
			d.stats.casMisses++

			return NotFound
		}

		return d.errorResp(err)
	}

	if v.CasID() != set.CasUnique {
		d.stats.casBadval++

		return Exists
	}

	resp := d.doStore(set)
	if status, ok := resp.(Status); ok && status == Stored {
		d.stats.casHits++
	}

	return resp
}

func (d *Driver) doInc(inc Inc) Resp {
	v, err := d.cache.Remove(inc.Key)
	if err != nil {
		if cache.IsNotFound(err) {
			if inc.Instr == InstrIncr {
				d.stats.incrMisses++
			} else {
				d.stats.decrMisses++
			}

			return maybeReply(inc.Noreply, NotFound)
		}

		return maybeReply(inc.Noreply, d.errorResp(err))
	}

	cur, parseErr := strconv.ParseUint(string(v.Data()), 10, 64)
	if parseErr != nil {
		// Put the record back untouched before rejecting
		reinsertErr := d.cache.Reinsert(inc.Key, v)
		if reinsertErr != nil {
			return maybeReply(inc.Noreply, d.errorResp(reinsertErr))
		}

		return maybeReply(inc.Noreply, ClientError{Msg: "Not a number"})
	}

	var next uint64
	if inc.Instr == InstrIncr {
		// Wraps on 64-bit overflow
		next = cur + inc.Delta
	} else {
		// Saturates at zero
		if inc.Delta > cur {
			next = 0
		} else {
			next = cur - inc.Delta
		}
	}

	v.SetData([]byte(strconv.FormatUint(next, 10)))

	err = d.cache.Reinsert(inc.Key, v)
	if err != nil {
		return maybeReply(inc.Noreply, d.errorResp(err))
	}

	if inc.Instr == InstrIncr {
		d.stats.incrHits++
	} else {
		d.stats.decrHits++
	}

	return maybeReply(inc.Noreply, IntValue{Val: next})
}

func (d *Driver) doDelete(del Delete) Resp {
	_, err := d.cache.Remove(del.Key)
	if err != nil {
		if cache.IsNotFound(err) {
			return maybeReply(del.Noreply, NotFound)
		}

		return maybeReply(del.Noreply, d.errorResp(err))
	}

	return maybeReply(del.Noreply, Deleted)
}

func (d *Driver) doTouch(touch Touch) Resp {
	d.stats.cmdTouch++

	v, err := d.cache.Remove(touch.Key)
	if err != nil {
		if cache.IsNotFound(err) {
			d.stats.touchMisses++

			return maybeReply(touch.Noreply, NotFound)
		}

		return maybeReply(touch.Noreply, d.errorResp(err))
	}

	v.SetExptime(d.convertExptime(touch.Exptime))

	err = d.cache.Reinsert(touch.Key, v)
	if err != nil {
		return maybeReply(touch.Noreply, d.errorResp(err))
	}

	d.stats.touchHits++

	return maybeReply(touch.Noreply, Touched)
}

func (d *Driver) doFlushAll(flush FlushAll) Resp {
	d.stats.cmdFlush++

	// An absent or zero exptime flushes as of now
	horizon := d.clock.Now()
	if flush.HasExptime && flush.Exptime > 0 {
		horizon = d.convertExptime(flush.Exptime)
	}

	d.cache.FlushAll(horizon)

	return maybeReply(flush.Noreply, OK)
}

func (d *Driver) doStats() Resp {
	now := d.clock.Now()
	cacheStats := d.cache.Stats()

	format := func(n uint64) string {
		return strconv.FormatUint(n, 10)
	}

	items := []Stat{
		{Key: "pid", Value: strconv.Itoa(os.Getpid())},
		{Key: "uptime", Value: format(uint64(now - d.timeStart))},
		{Key: "time", Value: format(uint64(now))},
		{Key: "version", Value: d.version},
		{Key: "cmd_get", Value: format(d.stats.cmdGet)},
		{Key: "cmd_set", Value: format(d.stats.cmdSet)},
		{Key: "cmd_flush", Value: format(d.stats.cmdFlush)},
		{Key: "cmd_touch", Value: format(d.stats.cmdTouch)},
		{Key: "get_hits", Value: format(cacheStats.GetHits)},
		{Key: "get_misses", Value: format(cacheStats.GetMisses)},
		{Key: "delete_hits", Value: format(cacheStats.DeleteHits)},
		{Key: "delete_misses", Value: format(cacheStats.DeleteMisses)},
		{Key: "incr_hits", Value: format(d.stats.incrHits)},
		{Key: "incr_misses", Value: format(d.stats.incrMisses)},
		{Key: "decr_hits", Value: format(d.stats.decrHits)},
		{Key: "decr_misses", Value: format(d.stats.decrMisses)},
		{Key: "cas_hits", Value: format(d.stats.casHits)},
		{Key: "cas_misses", Value: format(d.stats.casMisses)},
		{Key: "cas_badval", Value: format(d.stats.casBadval)},
		{Key: "touch_hits", Value: format(d.stats.touchHits)},
		{Key: "touch_misses", Value: format(d.stats.touchMisses)},
		{Key: "bytes_read", Value: format(d.transportStats.BytesRead)},
		{Key: "bytes_written", Value: format(d.transportStats.BytesWritten)},
		{Key: "limit_maxbytes", Value: format(d.cache.Capacity())},
		{Key: "bytes", Value: format(cacheStats.Bytes)},
		{Key: "curr_items", Value: format(uint64(d.cache.Len()))},
		{Key: "total_items", Value: format(cacheStats.TotalItems)},
		{Key: "evictions", Value: format(cacheStats.Evictions)},
		{Key: "reclaimed", Value: format(cacheStats.Reclaimed)},
	}

	return StatsResult{Items: items}
}

// CmdName returns the wire verb for a command, for logs and metric labels.
func CmdName(cmd Cmd) string {
	switch cmd := cmd.(type) {
	case Get:
		if cmd.Instr == InstrGets {
			return "gets"
		}

		return "get"
	case Set:
		switch cmd.Instr {
		case InstrAdd:
			return "add"
		case InstrReplace:
			return "replace"
		case InstrAppend:
			return "append"
		case InstrPrepend:
			return "prepend"
		case InstrCas:
			return "cas"
		default:
			return "set"
		}
	case Inc:
		if cmd.Instr == InstrDecr {
			return "decr"
		}

		return "incr"
	case Delete:
		return "delete"
	case Touch:
		return "touch"
	case FlushAll:
		return "flush_all"
	case Stats:
		return "stats"
	case Version:
		return "version"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}
