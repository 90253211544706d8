// Package probe measures live reachability for batches of servers under a
// bounded concurrency pool, writing results through the store and raising
// per-record update events as they land.
package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"
)

var (
	ErrProbe       = errors.New("probe failed")
	errBadResponse = errors.New("unexpected query response")
)

// Result is one successful liveness measurement.
type Result struct {
	PingMS     int
	Name       string
	Map        string
	Players    int
	MaxPlayers int
	Keywords   string
}

// Pinger measures round trip time and live player counts for a single
// endpoint. Implementations must respect both the context and timeout.
type Pinger interface {
	Ping(ctx context.Context, addr string, timeout time.Duration) (Result, error)
}

const (
	headerInfoRequest  = 0x54
	headerInfoResponse = 0x49
	headerChallenge    = 0x41

	edfPort     = 0x80
	edfSteamID  = 0x10
	edfSourceTV = 0x40
	edfKeywords = 0x20
	edfGameID   = 0x01
)

var infoPayload = append([]byte{0xFF, 0xFF, 0xFF, 0xFF, headerInfoRequest}, []byte("Source Engine Query\x00")...)

// A2SPinger queries the Steam server query port. The full info exchange
// doubles as both the reachability check and the protocol level query, so
// a timeout here is a real signal, not just a dropped echo.
type A2SPinger struct{}

func (p A2SPinger) Ping(ctx context.Context, addr string, timeout time.Duration) (Result, error) {
	conn, errDial := (&net.Dialer{}).DialContext(ctx, "udp", addr)
	if errDial != nil {
		return Result{}, errors.Join(errDial, ErrProbe)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if errDeadline := conn.SetDeadline(deadline); errDeadline != nil {
		return Result{}, errors.Join(errDeadline, ErrProbe)
	}

	started := time.Now()
	response, errExchange := exchange(conn, infoPayload)
	if errExchange != nil {
		return Result{}, errors.Join(errExchange, ErrProbe)
	}

	// Servers may demand a challenge round trip before answering.
	if len(response) > 4 && response[4] == headerChallenge {
		if len(response) < 9 {
			return Result{}, errors.Join(errBadResponse, ErrProbe)
		}
		response, errExchange = exchange(conn, append(bytes.Clone(infoPayload), response[5:9]...))
		if errExchange != nil {
			return Result{}, errors.Join(errExchange, ErrProbe)
		}
	}

	result, errParse := parseInfo(response)
	if errParse != nil {
		return Result{}, errors.Join(errParse, ErrProbe)
	}

	result.PingMS = int(time.Since(started).Milliseconds())

	return result, nil
}

func exchange(conn net.Conn, payload []byte) ([]byte, error) {
	if _, errWrite := conn.Write(payload); errWrite != nil {
		return nil, errWrite
	}

	buffer := make([]byte, 1400)
	read, errRead := conn.Read(buffer)
	if errRead != nil {
		return nil, errRead
	}

	return buffer[:read], nil
}

func parseInfo(packet []byte) (Result, error) {
	if len(packet) < 6 || packet[4] != headerInfoResponse {
		return Result{}, errBadResponse
	}

	reader := bytes.NewReader(packet[5:])
	if _, errProto := reader.ReadByte(); errProto != nil {
		return Result{}, errBadResponse
	}

	var result Result
	var errField error
	if result.Name, errField = readCString(reader); errField != nil {
		return Result{}, errBadResponse
	}
	if result.Map, errField = readCString(reader); errField != nil {
		return Result{}, errBadResponse
	}
	// Folder and game are read past but not kept.
	for range 2 {
		if _, errField = readCString(reader); errField != nil {
			return Result{}, errBadResponse
		}
	}

	var appID uint16
	if errBinary := binary.Read(reader, binary.LittleEndian, &appID); errBinary != nil {
		return Result{}, errBadResponse
	}

	counts := make([]byte, 2)
	if _, errCounts := reader.Read(counts); errCounts != nil {
		return Result{}, errBadResponse
	}
	result.Players = int(counts[0])
	result.MaxPlayers = int(counts[1])

	// bots, server type, environment, visibility, vac
	if _, errSkip := reader.Seek(5, io.SeekCurrent); errSkip != nil {
		return result, nil
	}
	if _, errVersion := readCString(reader); errVersion != nil {
		return result, nil
	}

	edf, errEDF := reader.ReadByte()
	if errEDF != nil {
		return result, nil
	}
	if edf&edfPort != 0 {
		var port uint16
		if binary.Read(reader, binary.LittleEndian, &port) != nil {
			return result, nil
		}
	}
	if edf&edfSteamID != 0 {
		var steamID uint64
		if binary.Read(reader, binary.LittleEndian, &steamID) != nil {
			return result, nil
		}
	}
	if edf&edfSourceTV != 0 {
		var tvPort uint16
		if binary.Read(reader, binary.LittleEndian, &tvPort) != nil {
			return result, nil
		}
		if _, errTV := readCString(reader); errTV != nil {
			return result, nil
		}
	}
	if edf&edfKeywords != 0 {
		result.Keywords, _ = readCString(reader)
	}

	return result, nil
}

func readCString(reader *bytes.Reader) (string, error) {
	var builder bytes.Buffer
	for {
		char, err := reader.ReadByte()
		if err != nil {
			return "", err
		}
		if char == 0 {
			return builder.String(), nil
		}
		builder.WriteByte(char)
	}
}
