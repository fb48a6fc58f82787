// Package transport implements the per-connection codec for the memcached
// ASCII wire format: it reads one command (possibly with a trailing data
// block) from a buffered stream and writes one bit-exact response.
package transport

import (
	"bufio"
	"io"
	"strconv"
	"unicode/utf8"

	derrors "github.com/y3owk1n/kioku/internal/errors"
	"github.com/y3owk1n/kioku/internal/protocol"
)

const (
	// DefaultKeyMaxlen is the memcached-standard key length limit; the
	// transport only uses it to bound command line length.
	DefaultKeyMaxlen = 250

	// lineOverhead bounds everything on a command line besides the key:
	// the verb and the numeric words.
	lineOverhead = 100
)

const (
	cr = '\r'
	lf = '\n'
	sp = ' '
)

// Transport is a per-connection codec. It owns no goroutines and assumes a
// single caller; the server gives each connection its own instance.
type Transport struct {
	reader       *bufio.Reader
	writer       *bufio.Writer
	keyMaxlen    int
	bytesRead    uint64
	bytesWritten uint64
}

// New creates a transport over a duplex stream, buffered in both directions.
func New(rw io.ReadWriter) *Transport {
	return &Transport{
		reader:    bufio.NewReader(rw),
		writer:    bufio.NewWriter(rw),
		keyMaxlen: DefaultKeyMaxlen,
	}
}

// WithKeyMaxlen overrides the key length bound used to size command lines.
func (t *Transport) WithKeyMaxlen(maxlen int) *Transport {
	t.keyMaxlen = maxlen

	return t
}

// Stats returns a snapshot of the byte counters.
func (t *Transport) Stats() protocol.TransportStats {
	return protocol.TransportStats{
		BytesRead:    t.bytesRead,
		BytesWritten: t.bytesWritten,
	}
}

// maxLineLen bounds a command line: room for a verb plus one key plus a
// handful of numeric words. The same bound applies to multi-key get and
// gets lines, so those longer than it are rejected. Data blocks are not
// lines; their length is declared upfront.
func (t *Transport) maxLineLen() int {
	return t.keyMaxlen + lineOverhead
}

// Reading

func (t *Transport) readByte() (byte, error) {
	b, err := t.reader.ReadByte()
	if err != nil {
		return 0, derrors.Wrap(err, derrors.CodeStreamRead, "failed to read from stream")
	}

	t.bytesRead++

	return b, nil
}

// readLine reads up to maxlen bytes looking for CRLF and returns the line
// without its terminator.
func (t *Transport) readLine(maxlen int) ([]byte, error) {
	line := make([]byte, 0, 64)

	for range maxlen {
		b, err := t.readByte()
		if err != nil {
			return nil, err
		}

		line = append(line, b)

		n := len(line)
		if n >= 2 && line[n-2] == cr && line[n-1] == lf {
			return line[:n-2], nil
		}
	}

	return nil, derrors.Newf(derrors.CodeLineRead, "no line terminator within %d bytes", maxlen)
}

// readData reads a declared-length data block and its trailing CRLF.
func (t *Transport) readData(length uint64) ([]byte, error) {
	data := make([]byte, length)

	n, err := io.ReadFull(t.reader, data)
	t.bytesRead += uint64(n)

	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeStreamRead, "failed to read data block")
	}

	crByte, err := t.readByte()
	if err != nil {
		return nil, err
	}

	lfByte, err := t.readByte()
	if err != nil {
		return nil, err
	}

	if crByte != cr || lfByte != lf {
		return nil, derrors.New(derrors.CodeCommandParse, "data block not terminated by CRLF")
	}

	return data, nil
}

// tokenize splits a line into words. Runs of spaces collapse, so leading
// spaces before a word and a trailing space before the terminator are
// tolerated.
func tokenize(line []byte) [][]byte {
	var words [][]byte

	start := -1

	for i, b := range line {
		if b == sp {
			if start >= 0 {
				words = append(words, line[start:i])
				start = -1
			}

			continue
		}

		if start < 0 {
			start = i
		}
	}

	if start >= 0 {
		words = append(words, line[start:])
	}

	return words
}

// Word conversions

func asString(word []byte) (string, error) {
	if !utf8.Valid(word) {
		return "", derrors.New(derrors.CodeUtf8, "word is not valid UTF-8")
	}

	return string(word), nil
}

func asUint(word []byte, bits int) (uint64, error) {
	n, err := strconv.ParseUint(string(word), 10, bits)
	if err != nil {
		return 0, derrors.Wrapf(err, derrors.CodeNumberParse, "bad numeric word %q", word)
	}

	return n, nil
}

// ReadCommand reads and parses one command, including its data block for
// the storage verbs.
func (t *Transport) ReadCommand() (protocol.Cmd, error) {
	line, err := t.readLine(t.maxLineLen())
	if err != nil {
		return nil, err
	}

	words := tokenize(line)
	if len(words) == 0 {
		return nil, derrors.New(derrors.CodeInvalidCmd, "empty command line")
	}

	verb := string(words[0])
	args := words[1:]

	switch verb {
	case "get":
		return t.parseGet(protocol.InstrGet, args)
	case "gets":
		return t.parseGet(protocol.InstrGets, args)
	case "set":
		return t.parseStore(protocol.InstrSet, args)
	case "add":
		return t.parseStore(protocol.InstrAdd, args)
	case "replace":
		return t.parseStore(protocol.InstrReplace, args)
	case "append":
		return t.parseStore(protocol.InstrAppend, args)
	case "prepend":
		return t.parseStore(protocol.InstrPrepend, args)
	case "cas":
		return t.parseStore(protocol.InstrCas, args)
	case "incr":
		return t.parseInc(protocol.InstrIncr, args)
	case "decr":
		return t.parseInc(protocol.InstrDecr, args)
	case "delete":
		return t.parseDelete(args)
	case "touch":
		return t.parseTouch(args)
	case "flush_all":
		return t.parseFlushAll(args)
	case "stats":
		if len(args) != 0 {
			return nil, derrors.New(derrors.CodeCommandParse, "stats takes no arguments")
		}

		return protocol.Stats{}, nil
	case "version":
		if len(args) != 0 {
			return nil, derrors.New(derrors.CodeCommandParse, "version takes no arguments")
		}

		return protocol.Version{}, nil
	case "quit":
		if len(args) != 0 {
			return nil, derrors.New(derrors.CodeCommandParse, "quit takes no arguments")
		}

		return protocol.Quit{}, nil
	default:
		return nil, derrors.Newf(derrors.CodeInvalidCmd, "unknown verb %q", verb)
	}
}

func (t *Transport) parseGet(instr protocol.GetInstr, args [][]byte) (protocol.Cmd, error) {
	if len(args) == 0 {
		return nil, derrors.New(derrors.CodeCommandParse, "get requires at least one key")
	}

	keys := make([]string, 0, len(args))

	for _, word := range args {
		key, err := asString(word)
		if err != nil {
			return nil, err
		}

		keys = append(keys, key)
	}

	return protocol.Get{Instr: instr, Keys: keys}, nil
}

func (t *Transport) parseStore(instr protocol.SetInstr, args [][]byte) (protocol.Cmd, error) {
	fixed := 4
	if instr == protocol.InstrCas {
		fixed = 5
	}

	if len(args) < fixed {
		return nil, derrors.New(derrors.CodeCommandParse, "missing words on storage command")
	}

	key, err := asString(args[0])
	if err != nil {
		return nil, err
	}

	flags, err := asUint(args[1], 16)
	if err != nil {
		return nil, err
	}

	exptime, err := asUint(args[2], 32)
	if err != nil {
		return nil, err
	}

	length, err := asUint(args[3], 64)
	if err != nil {
		return nil, err
	}

	var casUnique uint64

	if instr == protocol.InstrCas {
		casUnique, err = asUint(args[4], 64)
		if err != nil {
			return nil, err
		}
	}

	noreply, err := parseNoreply(args[fixed:])
	if err != nil {
		return nil, err
	}

	data, err := t.readData(length)
	if err != nil {
		return nil, err
	}

	return protocol.Set{
		Instr:     instr,
		Key:       key,
		Flags:     uint16(flags),
		Exptime:   uint32(exptime),
		Data:      data,
		CasUnique: casUnique,
		Noreply:   noreply,
	}, nil
}

func (t *Transport) parseInc(instr protocol.IncInstr, args [][]byte) (protocol.Cmd, error) {
	if len(args) < 2 {
		return nil, derrors.New(derrors.CodeCommandParse, "incr/decr require a key and a delta")
	}

	key, err := asString(args[0])
	if err != nil {
		return nil, err
	}

	delta, err := asUint(args[1], 64)
	if err != nil {
		return nil, err
	}

	noreply, err := parseNoreply(args[2:])
	if err != nil {
		return nil, err
	}

	return protocol.Inc{Instr: instr, Key: key, Delta: delta, Noreply: noreply}, nil
}

func (t *Transport) parseDelete(args [][]byte) (protocol.Cmd, error) {
	if len(args) < 1 {
		return nil, derrors.New(derrors.CodeCommandParse, "delete requires a key")
	}

	key, err := asString(args[0])
	if err != nil {
		return nil, err
	}

	noreply, err := parseNoreply(args[1:])
	if err != nil {
		return nil, err
	}

	return protocol.Delete{Key: key, Noreply: noreply}, nil
}

func (t *Transport) parseTouch(args [][]byte) (protocol.Cmd, error) {
	if len(args) < 2 {
		return nil, derrors.New(derrors.CodeCommandParse, "touch requires a key and an exptime")
	}

	key, err := asString(args[0])
	if err != nil {
		return nil, err
	}

	exptime, err := asUint(args[1], 32)
	if err != nil {
		return nil, err
	}

	noreply, err := parseNoreply(args[2:])
	if err != nil {
		return nil, err
	}

	return protocol.Touch{Key: key, Exptime: uint32(exptime), Noreply: noreply}, nil
}

func (t *Transport) parseFlushAll(args [][]byte) (protocol.Cmd, error) {
	cmd := protocol.FlushAll{}

	if len(args) > 0 && string(args[0]) != "noreply" {
		exptime, err := asUint(args[0], 32)
		if err != nil {
			return nil, err
		}

		cmd.Exptime = uint32(exptime)
		cmd.HasExptime = true
		args = args[1:]
	}

	noreply, err := parseNoreply(args)
	if err != nil {
		return nil, err
	}

	cmd.Noreply = noreply

	return cmd, nil
}

// parseNoreply consumes the optional trailing noreply token; anything else
// left over is a parse error.
func parseNoreply(rest [][]byte) (bool, error) {
	if len(rest) == 0 {
		return false, nil
	}

	if len(rest) == 1 && string(rest[0]) == "noreply" {
		return true, nil
	}

	return false, derrors.New(derrors.CodeCommandParse, "unexpected trailing words")
}

// Writing

func (t *Transport) writeBytes(b []byte) error {
	n, err := t.writer.Write(b)
	t.bytesWritten += uint64(n)

	if err != nil {
		return derrors.Wrap(err, derrors.CodeStreamWrite, "failed to write to stream")
	}

	return nil
}

func (t *Transport) writeString(s string) error {
	return t.writeBytes([]byte(s))
}

// WriteResponse serialises one response and flushes the write buffer.
// Empty flushes without writing anything.
func (t *Transport) WriteResponse(resp protocol.Resp) error {
	err := t.serialize(resp)
	if err != nil {
		return err
	}

	flushErr := t.writer.Flush()
	if flushErr != nil {
		return derrors.Wrap(flushErr, derrors.CodeStreamWrite, "failed to flush stream")
	}

	return nil
}

func (t *Transport) serialize(resp protocol.Resp) error {
	switch resp := resp.(type) {
	case protocol.Status:
		return t.serializeStatus(resp)
	case protocol.ClientError:
		return t.writeString("CLIENT_ERROR " + resp.Msg + "\r\n")
	case protocol.ServerError:
		return t.writeString("SERVER_ERROR " + resp.Msg + "\r\n")
	case protocol.IntValue:
		return t.writeString(strconv.FormatUint(resp.Val, 10) + "\r\n")
	case protocol.Values:
		return t.serializeValues(resp)
	case protocol.StatsResult:
		return t.serializeStats(resp)
	case protocol.VersionInfo:
		return t.writeString("VERSION " + resp.Version + "\r\n")
	default:
		return derrors.New(derrors.CodeInternal, "unserialisable response variant")
	}
}

func (t *Transport) serializeStatus(status protocol.Status) error {
	switch status {
	case protocol.Empty:
		return nil
	case protocol.Error:
		return t.writeString("ERROR\r\n")
	case protocol.Stored:
		return t.writeString("STORED\r\n")
	case protocol.NotStored:
		return t.writeString("NOT_STORED\r\n")
	case protocol.Exists:
		return t.writeString("EXISTS\r\n")
	case protocol.NotFound:
		return t.writeString("NOT_FOUND\r\n")
	case protocol.Deleted:
		return t.writeString("DELETED\r\n")
	case protocol.Touched:
		return t.writeString("TOUCHED\r\n")
	case protocol.OK:
		return t.writeString("OK\r\n")
	default:
		return derrors.New(derrors.CodeInternal, "unserialisable status")
	}
}

func (t *Transport) serializeValues(values protocol.Values) error {
	for _, item := range values.Items {
		header := "VALUE " + item.Key +
			" " + strconv.FormatUint(uint64(item.Flags), 10) +
			" " + strconv.Itoa(len(item.Data))

		if values.WithCas {
			header += " " + strconv.FormatUint(item.CasUnique, 10)
		}

		err := t.writeString(header + "\r\n")
		if err != nil {
			return err
		}

		err = t.writeBytes(item.Data)
		if err != nil {
			return err
		}

		err = t.writeString("\r\n")
		if err != nil {
			return err
		}
	}

	return t.writeString("END\r\n")
}

func (t *Transport) serializeStats(stats protocol.StatsResult) error {
	for _, item := range stats.Items {
		err := t.writeString("STAT " + item.Key + " " + item.Value + "\r\n")
		if err != nil {
			return err
		}
	}

	return t.writeString("END\r\n")
}
