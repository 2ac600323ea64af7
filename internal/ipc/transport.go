package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var ErrTransportClosed = errors.New("ipc: transport closed")

// Transport is a message-oriented duplex pipe between exactly two
// endpoints. It carries envelopes and nothing else.
type Transport interface {
	Send(env Envelope) error
	Receive() (Envelope, error)
	Close() error
}

// PipeTransport frames envelopes as newline-delimited JSON over a byte
// stream pair. The coordinator binds it to the worker's stdin/stdout;
// the worker binds it to its own.
type PipeTransport struct {
	r      *bufio.Scanner
	w      io.Writer
	wmu    sync.Mutex
	closer []io.Closer
}

func NewPipeTransport(r io.Reader, w io.Writer) *PipeTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	t := &PipeTransport{r: scanner, w: w}
	if c, ok := r.(io.Closer); ok {
		t.closer = append(t.closer, c)
	}
	if c, ok := w.(io.Closer); ok {
		t.closer = append(t.closer, c)
	}
	return t
}

func (t *PipeTransport) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (t *PipeTransport) Receive() (Envelope, error) {
	for t.r.Scan() {
		line := t.r.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		return env, nil
	}
	if err := t.r.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, ErrTransportClosed
}

func (t *PipeTransport) Close() error {
	var first error
	for _, c := range t.closer {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ChannelTransport is an in-memory transport for tests. NewChannelPair
// returns two ends wired back to back.
type ChannelTransport struct {
	in   chan Envelope
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

func NewChannelPair() (*ChannelTransport, *ChannelTransport) {
	ab := make(chan Envelope, 64)
	ba := make(chan Envelope, 64)
	done := make(chan struct{})
	a := &ChannelTransport{in: ba, out: ab, done: done}
	b := &ChannelTransport{in: ab, out: ba, done: done}
	return a, b
}

func (t *ChannelTransport) Send(env Envelope) error {
	select {
	case t.out <- env:
		return nil
	case <-t.done:
		return ErrTransportClosed
	}
}

func (t *ChannelTransport) Receive() (Envelope, error) {
	select {
	case env := <-t.in:
		return env, nil
	case <-t.done:
		return Envelope{}, ErrTransportClosed
	}
}

func (t *ChannelTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
