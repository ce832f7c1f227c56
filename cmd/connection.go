// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/pandagarage/garagelink/pkg/bus"
	"github.com/pandagarage/garagelink/pkg/config"
	"github.com/pandagarage/garagelink/pkg/drivesim"
)

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// Drain waits until the frame has left the UART, so transmit enable is not
// released early
func (s *SerialConnection) Drain() error {
	return s.port.Drain()
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection carries the bus over a serial bridge's WebSocket.
// Each binary message holds raw bus bytes; text messages are bridge chatter.
type WebSocketConnection struct {
	conn    *websocket.Conn
	pending []byte
	failed  bool

	wmu sync.Mutex // gorilla allows one writer at a time
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.failed {
		return 0, ErrConnectionClosed
	}

	for len(w.pending) == 0 {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.failed = true
			return 0, err
		}
		if messageType == websocket.BinaryMessage {
			w.pending = data
		}
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// serialReadTimeout lets the bus reader notice shutdown on a quiet line
const serialReadTimeout = 100 * time.Millisecond

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	port, err := bus.OpenSerial(portName, baudRate, serialReadTimeout)
	if err != nil {
		return nil, err
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Validate scheme
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Create dialer with timeout
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	// Connect
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("GARAGELINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// Link is an open bus connection with its transmit-enable line
type Link struct {
	Conn Connection
	Dir  bus.DirectionLine
	Info string
	// Sim is set when the bus is simulated
	Sim *drivesim.Drive
	// Reopen reconnects after the connection failed; nil for the simulator
	Reopen bus.Dialer
}

// Close releases the connection and direction line
func (l *Link) Close() error {
	err := l.Conn.Close()
	if derr := l.Dir.Close(); err == nil {
		err = derr
	}
	return err
}

// OpenConnection opens a serial, WebSocket or simulated connection
func OpenConnection(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*Link, error) {
	switch {
	case cfg.Simulate:
		sim := drivesim.New(drivesim.DefaultConfig(), log.Named("drivesim"))
		sim.Start(ctx)
		return &Link{Conn: sim, Dir: bus.NoLine{}, Info: "Simulated drive", Sim: sim}, nil

	case cfg.Bridge.URL != "":
		password := ""
		if cfg.Bridge.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}

		dial := func(ctx context.Context) (io.ReadWriter, error) {
			return OpenWebSocketConnection(ctx, cfg.Bridge.URL, cfg.Bridge.Username, password, cfg.Bridge.NoSSLVerify)
		}
		conn, err := OpenWebSocketConnection(ctx, cfg.Bridge.URL, cfg.Bridge.Username, password, cfg.Bridge.NoSSLVerify)
		if err != nil {
			return nil, err
		}
		return &Link{Conn: conn, Dir: bus.NoLine{}, Info: fmt.Sprintf("WebSocket: %s", cfg.Bridge.URL), Reopen: dial}, nil

	case cfg.Serial.Port != "":
		conn, err := OpenSerialConnection(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, err
		}

		dir, err := openDirection(cfg.Bus, conn.port)
		if err != nil {
			conn.Close()
			return nil, err
		}

		link := &Link{
			Conn: conn,
			Dir:  dir,
			Info: fmt.Sprintf("Serial: %s @ %d baud (direction %s)", cfg.Serial.Port, cfg.Serial.Baud, cfg.Bus.Direction),
		}
		// RTS belongs to the port handle, so a reopened port would leave
		// the direction line behind
		if cfg.Bus.Direction != config.DirectionRTS {
			link.Reopen = func(ctx context.Context) (io.ReadWriter, error) {
				return OpenSerialConnection(cfg.Serial.Port, cfg.Serial.Baud)
			}
		}
		return link, nil
	}

	return nil, fmt.Errorf("either --port, --url or --simulate must be specified")
}

func openDirection(b config.Bus, port serial.Port) (bus.DirectionLine, error) {
	switch b.Direction {
	case config.DirectionRTS:
		line := bus.NewRTSLine(port, false)
		if err := line.SetTransmit(false); err != nil {
			return nil, fmt.Errorf("failed to release RTS: %w", err)
		}
		return line, nil
	case config.DirectionGPIO:
		line, err := bus.OpenGPIOLine(b.GPIOChip, b.GPIOOffset)
		if err != nil {
			return nil, err
		}
		return line, nil
	default:
		return bus.NoLine{}, nil
	}
}
