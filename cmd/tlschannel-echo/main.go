// Command tlschannel-echo dials or listens on a raw TCP socket, wraps it in
// a tlschannel.Channel backed by a NoiseEngine, and echoes stdin to the
// encrypted connection (client mode) or the connection back to itself
// (server mode). It exists for manual end-to-end exercise of the adapter,
// the same role the teacher's own cmd/azurl and examples/echo play for
// its Azure transports.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/atsika/tlschannel"
)

func main() {
	listenFlag := flag.Bool("listen", false, "run as a server instead of dialing")
	addrFlag := flag.String("addr", "127.0.0.1:4433", "address to dial or listen on")
	connectTimeoutFlag := flag.Duration("connect-timeout", tlschannel.DefaultConnectTimeout, "TCP dial timeout (client mode)")
	reconnectFlag := flag.Bool("reconnect", false, "keep retrying the dial with backoff if the connection drops (client mode)")

	flag.Usage = printUsage
	flag.Parse()

	var err error
	if *listenFlag {
		err = runServer(*addrFlag)
	} else {
		err = runClient(*addrFlag, *connectTimeoutFlag, *reconnectFlag)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runServer(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	log.Printf("tlschannel-echo: listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		go serveConn(conn)
	}
}

func serveConn(conn net.Conn) {
	defer conn.Close()
	log.Printf("tlschannel-echo: client %s connected", conn.RemoteAddr())

	engine, err := tlschannel.NewNoiseEngine(false)
	if err != nil {
		log.Printf("engine: %v", err)
		return
	}
	ch, err := tlschannel.NewChannelConn(conn, engine, make([]byte, tlschannel.MaxRecordSize))
	if err != nil {
		log.Printf("new channel: %v", err)
		return
	}
	defer ch.Close()

	if err := ch.DoPassiveHandshake(); err != nil {
		log.Printf("handshake: %v", err)
		return
	}

	if _, err := io.Copy(ch, ch); err != nil && err != io.EOF {
		log.Printf("echo: %v", err)
	}
}

func runClient(addr string, connectTimeout time.Duration, reconnect bool) error {
	backoff := tlschannel.NewReconnectBackoff(100*time.Millisecond, 10*time.Second)

	for {
		err := dialAndServe(addr, connectTimeout)
		if err == nil {
			return nil
		}
		if !reconnect {
			return err
		}
		log.Printf("tlschannel-echo: connection lost (%v), reconnecting", err)
		backoff.Sleep()
	}
}

// dialAndServe dials once, echoes stdin/stdout over the resulting Channel
// until stdin closes or the connection drops, and returns nil only on a
// clean stdin-driven exit.
func dialAndServe(addr string, connectTimeout time.Duration) error {
	engine, err := tlschannel.NewNoiseEngine(true)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	ch, err := tlschannel.Dial(addr, engine, make([]byte, tlschannel.MaxRecordSize),
		tlschannel.WithConnectTimeout(connectTimeout))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ch.Close()

	if err := ch.DoHandshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	log.Printf("tlschannel-echo: handshake complete with %s", addr)

	readErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(os.Stdout, ch)
		readErr <- err
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if _, err := ch.Write(line); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin: %w", err)
	}

	ch.Close()
	if err := <-readErr; err != nil && err != io.EOF {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println("tlschannel-echo - manual exercise CLI for the tlschannel adapter")
	fmt.Println("Usage:")
	fmt.Println("  tlschannel-echo -listen [-addr host:port]")
	fmt.Println("  tlschannel-echo [-addr host:port] [-connect-timeout d] [-reconnect]")
}
