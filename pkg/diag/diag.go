/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package diag is the optional CLI/diagnostic surface: a line-based TCP
// command socket offering help/version/loglevel/base64, non-essential to
// the engine's core operation but useful for live inspection of a
// running steerd. One goroutine per accepted connection replaces the
// single-threaded libev accept/read callback pair the reference command
// server uses; the command table and line-splitting protocol otherwise
// follow it directly.
package diag

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Info is the static identity a diag server reports via the version
// command.
type Info struct {
	Name    string
	Version string
}

// client is the per-connection context passed to command handlers, like
// the reference implementation's client_t plus its printf callback.
type client struct {
	conn net.Conn
	w    *bufio.Writer
}

func (c *client) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
	c.w.Flush()
}

// commandFunc is a single diagnostic command handler; it returns false
// if the connection should be closed after it runs.
type commandFunc func(s *Server, c *client, argv []string) bool

// commandTable lists every recognized command, in the order `help`
// prints them, mirroring the reference's array-of-structs command table.
var commandTable = []struct {
	name string
	help string
	fn   commandFunc
}{
	{"help", "list available commands", cmdHelp},
	{"version", "print the daemon name and build version", cmdVersion},
	{"loglevel", "get or set the log level: loglevel [debug|info|warn|error]", cmdLogLevel},
	{"base64", "base64-encode its argument: base64 <text>", cmdBase64},
}

func cmdHelp(s *Server, c *client, argv []string) bool {
	for _, cmd := range commandTable {
		c.printf("%-10s %s\n", cmd.name, cmd.help)
	}
	return true
}

func cmdVersion(s *Server, c *client, argv []string) bool {
	c.printf("%s %s\n", s.info.Name, s.info.Version)
	return true
}

func cmdLogLevel(s *Server, c *client, argv []string) bool {
	if len(argv) < 2 {
		c.printf("%s\n", s.level.Level().String())
		return true
	}
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(argv[1])); err != nil {
		c.printf("unrecognized log level %q\n", argv[1])
		return true
	}
	s.level.SetLevel(lvl.Level())
	c.printf("ok\n")
	return true
}

func cmdBase64(s *Server, c *client, argv []string) bool {
	if len(argv) < 2 {
		c.printf("usage: base64 <text>\n")
		return true
	}
	c.printf("%s\n", base64.StdEncoding.EncodeToString([]byte(strings.Join(argv[1:], " "))))
	return true
}

// Server is the diagnostic command listener. The loglevel command reads
// and sets the server's own level field, which starts at info; that
// level is not connected to the logger passed to New, so changing it
// does not change what the daemon logs.
type Server struct {
	slog  *zap.SugaredLogger
	addr  string
	info  Info
	level zap.AtomicLevel

	mu   sync.Mutex
	lis  net.Listener
}

// New constructs a diag Server bound to addr (not yet listening).
func New(slog *zap.SugaredLogger, addr string, info Info) *Server {
	return &Server{
		slog:  slog,
		addr:  addr,
		info:  info,
		level: zap.NewAtomicLevelAt(zap.InfoLevel),
	}
}

// Run listens on the server's address and serves connections until ctx
// is canceled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	if s.slog != nil {
		s.slog.Infow("diag server listening", "addr", s.addr)
	}

	var wg sync.WaitGroup
	for {
		conn, err := lis.Accept()
		if err != nil {
			wg.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(conn)
		}()
	}
}

// serve handles one connection: read lines, split into argv like the
// reference's strargv, dispatch on the command table, until the peer
// sends "exit", closes the connection, or sends EOF.
func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	c := &client{conn: conn, w: bufio.NewWriter(conn)}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if line == "exit" {
			return
		}
		argv := strings.Fields(line)
		if len(argv) == 0 {
			continue
		}
		if !s.dispatch(c, argv) {
			return
		}
	}
}

func (s *Server) dispatch(c *client, argv []string) bool {
	for _, cmd := range commandTable {
		if cmd.name == argv[0] {
			return cmd.fn(s, c, argv)
		}
	}
	c.printf("command %q not found\n", argv[0])
	return true
}
