// Command tdmctl is the operator CLI for a running tdmchand: it sends one
// §6.4 command over the management TCP line protocol and prints the
// structured response.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	host := pflag.StringP("host", "H", "127.0.0.1", "tdmchand management host.")
	port := pflag.IntP("port", "p", 4900, "tdmchand management port.")
	timeout := pflag.DurationP("timeout", "t", 5*time.Second, "Connection timeout.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tdmctl - operator console for tdmchand.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tdmctl [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands: show [channel] | dial <channel> <number> | hangup <channel> |\n")
		fmt.Fprintf(os.Stderr, "          transfer <channel> | dndon <channel> | dndoff <channel> | restart\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || len(pflag.Args()) == 0 {
		pflag.Usage()
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)
	conn, err := net.DialTimeout("tcp", addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tdmctl: connect %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	line := strings.Join(pflag.Args(), " ")
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		fmt.Fprintf(os.Stderr, "tdmctl: send command: %v\n", err)
		os.Exit(1)
	}

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		fmt.Fprintf(os.Stderr, "tdmctl: no response from %s\n", addr)
		os.Exit(1)
	}

	var raw any
	if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
		fmt.Println(sc.Text())
		return
	}
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		fmt.Println(sc.Text())
		return
	}
	fmt.Println(string(pretty))
}
