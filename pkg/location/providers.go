package location

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(cb Callback) (cancel func())

// RequestCurrent implements Provider.
func (f ProviderFunc) RequestCurrent(cb Callback) func() {
	return f(cb)
}

// StaticProvider answers every request with a fixed outcome after Delay.
// A nil Position and nil Err report "no fix".
type StaticProvider struct {
	Position *Position
	Err      error
	Delay    time.Duration
}

// RequestCurrent implements Provider.
func (s *StaticProvider) RequestCurrent(cb Callback) func() {
	var pos *Position
	if s.Position != nil {
		p := *s.Position
		pos = &p
	}
	timer := time.AfterFunc(s.Delay, func() {
		cb(pos, s.Err)
	})
	return func() { timer.Stop() }
}

// FileProvider reads the latest fix from a JSON file maintained by an
// external locator daemon:
//
//	{"latitude": 12.34, "longitude": 56.78, "altitude": 100.0}
//
// A missing file is reported as "no fix". The file is read on a separate
// goroutine so the request behaves like any other asynchronous provider.
type FileProvider struct {
	Path string
}

// RequestCurrent implements Provider.
func (f *FileProvider) RequestCurrent(cb Callback) func() {
	var (
		mu       sync.Mutex
		canceled bool
	)
	go func() {
		pos, err := f.read()
		mu.Lock()
		defer mu.Unlock()
		if canceled {
			return
		}
		cb(pos, err)
	}()
	return func() {
		mu.Lock()
		canceled = true
		mu.Unlock()
	}
}

func (f *FileProvider) read() (*Position, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read location fix: %w", err)
	}

	var pos Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("parse location fix: %w", err)
	}
	return &pos, nil
}
