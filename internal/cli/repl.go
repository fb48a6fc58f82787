package cli

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	derrors "github.com/y3owk1n/kioku/internal/errors"
)

var (
	replHost string
	replPort int
)

// storageVerbs are the commands that carry a data block on a second line.
var storageVerbs = map[string]bool{
	"set":     true,
	"add":     true,
	"replace": true,
	"append":  true,
	"prepend": true,
	"cas":     true,
}

// multiLineVerbs are the commands whose responses run until an END line.
var multiLineVerbs = map[string]bool{
	"get":   true,
	"gets":  true,
	"stats": true,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive protocol client against a running server",
	RunE:  runRepl,
}

func init() {
	replCmd.Flags().StringVar(&replHost, "host", "127.0.0.1", "Server address")
	replCmd.Flags().IntVar(&replPort, "port", 11311, "Server port")

	rootCmd.AddCommand(replCmd)
}

func runRepl(_ *cobra.Command, _ []string) error {
	addr := net.JoinHostPort(replHost, strconv.Itoa(replPort))

	conn, dialErr := net.DialTimeout("tcp", addr, 2*time.Second)
	if dialErr != nil {
		return derrors.Wrapf(dialErr, derrors.CodeStreamRead, "cannot connect to %s", addr)
	}

	defer func() {
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)

	line := liner.NewLiner()
	defer func() {
		_ = line.Close()
	}()

	line.SetCtrlCAborts(true)

	fmt.Printf("connected to %s\n", addr)

	for {
		input, promptErr := line.Prompt("kioku> ")
		if promptErr != nil {
			// EOF and ctrl-c both end the session
			fmt.Println()

			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		verb := strings.ToLower(strings.Fields(input)[0])

		payload := input + "\r\n"

		if storageVerbs[verb] {
			data, dataErr := line.Prompt("data> ")
			if dataErr != nil {
				fmt.Println()

				return nil
			}

			payload += data + "\r\n"
		}

		_, writeErr := conn.Write([]byte(payload))
		if writeErr != nil {
			return derrors.Wrap(writeErr, derrors.CodeStreamWrite, "connection lost")
		}

		if verb == "quit" {
			return nil
		}

		// noreply commands produce no response to wait for
		if strings.HasSuffix(input, " noreply") {
			continue
		}

		printErr := printResponse(reader, verb)
		if printErr != nil {
			return printErr
		}
	}
}

// printResponse echoes one response. Value and stat listings run until
// their END line; everything else is a single line.
func printResponse(reader *bufio.Reader, verb string) error {
	for {
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			if readErr == io.EOF {
				return derrors.New(derrors.CodeStreamRead, "server closed the connection")
			}

			return derrors.Wrap(readErr, derrors.CodeStreamRead, "connection lost")
		}

		fmt.Print(response)

		if !multiLineVerbs[verb] || strings.TrimRight(response, "\r\n") == "END" {
			return nil
		}
	}
}
