// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// DefaultDebounce coalesces the bursts of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

// FileProvider reads a local file. Watch signals only when the file content
// actually changes.
type FileProvider struct {
	path     string
	clock    clockwork.Clock
	debounce time.Duration

	mu      sync.Mutex
	digest  [sha256.Size]byte
	watcher *fsnotify.Watcher
	closed  bool
}

// FileOption configures a FileProvider.
type FileOption func(*FileProvider)

// WithClock sets the clock driving the debounce timer.
func WithClock(c clockwork.Clock) FileOption {
	return func(p *FileProvider) {
		p.clock = c
	}
}

// WithDebounce sets how long the file must stay quiet before a change is
// reported.
func WithDebounce(d time.Duration) FileOption {
	return func(p *FileProvider) {
		p.debounce = d
	}
}

// NewFileProvider creates a provider for path.
func NewFileProvider(path string, opts ...FileOption) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	p := &FileProvider{
		path:     abs,
		clock:    clockwork.NewRealClock(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *FileProvider) Type() Type {
	return TypeFile
}

// Path returns the absolute file path.
func (p *FileProvider) Path() string {
	return p.path
}

// Load reads the file and remembers its digest.
func (p *FileProvider) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.digest = sha256.Sum256(data)
	p.mu.Unlock()
	return data, nil
}

// Watch watches the parent directory, so atomic renames by editors are seen.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(p.path), err)
	}
	p.watcher = watcher

	ch := make(chan struct{}, 1)
	go p.loop(ctx, watcher, ch)

	slog.Info("Watching config file", "path", p.path)
	return ch, nil
}

func (p *FileProvider) loop(ctx context.Context, watcher *fsnotify.Watcher, ch chan<- struct{}) {
	defer close(ch)

	var (
		timer   clockwork.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				slog.Warn("Config file removed, waiting for it to reappear", "path", p.path)
			}
			if timer == nil {
				timer = p.clock.NewTimer(p.debounce)
			} else {
				timer.Reset(p.debounce)
			}
			timerCh = timer.Chan()

		case <-timerCh:
			timerCh = nil
			if p.changed() && signal(ch) {
				slog.Debug("Config file changed", "path", p.path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config file watcher error", "path", p.path, "error", err)
		}
	}
}

// changed reports whether the file content differs from the last Load.
// A missing file is not a change.
func (p *FileProvider) changed() bool {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)

	p.mu.Lock()
	defer p.mu.Unlock()
	if bytes.Equal(sum[:], p.digest[:]) {
		return false
	}
	p.digest = sum
	return true
}

// Close stops watching.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

var _ Provider = (*FileProvider)(nil)
