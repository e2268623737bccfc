package main

// Line-oriented TCP transport for the §6.4 operator/management interface.
// Each connection receives one command per line ("dial 4 5551212", "show",
// "hangup 4", ...) and one JSON response line back; cmd/tdmctl is the
// client side of this same protocol.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/tdmchan/tdmchan/internal/engine"
)

func serveOperator(ctx context.Context, logger *log.Logger, op *engine.OperatorInterface, port int) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Errorf("operator listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Infof("operator interface listening on :%d", port)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("operator accept: %v", err)
			continue
		}
		go handleOperatorConn(conn, op)
	}
}

func handleOperatorConn(conn net.Conn, op *engine.OperatorInterface) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		resp := dispatchOperatorCommand(op, fields)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func dispatchOperatorCommand(op *engine.OperatorInterface, fields []string) any {
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	channelArg := func() (int, error) {
		if len(args) < 1 {
			return 0, fmt.Errorf("%s: missing channel", cmd)
		}
		return strconv.Atoi(args[0])
	}

	switch cmd {
	case "show":
		if len(args) == 0 {
			return op.ShowChannels(0)
		}
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return engine.OperatorResponse{OK: false, Message: err.Error()}
		}
		return op.ShowChannels(ch)
	case "dial":
		ch, err := channelArg()
		if err != nil || len(args) < 2 {
			return engine.OperatorResponse{OK: false, Message: "usage: dial <channel> <number>"}
		}
		return op.DialOffhook(ch, args[1])
	case "hangup":
		ch, err := channelArg()
		if err != nil {
			return engine.OperatorResponse{OK: false, Message: err.Error()}
		}
		return op.Hangup(ch)
	case "transfer":
		ch, err := channelArg()
		if err != nil {
			return engine.OperatorResponse{OK: false, Message: err.Error()}
		}
		return op.Transfer(ch)
	case "dndon":
		ch, err := channelArg()
		if err != nil {
			return engine.OperatorResponse{OK: false, Message: err.Error()}
		}
		return op.DNDon(ch)
	case "dndoff":
		ch, err := channelArg()
		if err != nil {
			return engine.OperatorResponse{OK: false, Message: err.Error()}
		}
		return op.DNDoff(ch)
	case "restart":
		return op.Restart()
	default:
		return engine.OperatorResponse{OK: false, Message: fmt.Sprintf("unknown command %q", cmd)}
	}
}
