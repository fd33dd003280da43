package frames

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// DirSource replays fixture images from <root>/<lane>/, cycling through
// them in name order.
type DirSource struct {
	clock timeutil.Clock

	mu    sync.Mutex
	files map[lane.Lane][]string
	next  map[lane.Lane]int
}

// NewDirSource indexes root. Lanes without a directory yield ErrNoFrame.
func NewDirSource(root string, lanes lane.Set, clock timeutil.Clock) (*DirSource, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if fi, err := os.Stat(root); err != nil {
		return nil, err
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	s := &DirSource{clock: clock, files: make(map[lane.Lane][]string), next: make(map[lane.Lane]int)}
	for _, l := range lanes {
		entries, err := os.ReadDir(filepath.Join(root, string(l)))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			names = append(names, filepath.Join(root, string(l), e.Name()))
		}
		sort.Strings(names)
		s.files[l] = names
	}
	return s, nil
}

func (s *DirSource) Capture(ctx context.Context, l lane.Lane) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	files := s.files[l]
	if len(files) == 0 {
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("lane %s: %w", l, ErrNoFrame)
	}
	path := files[s.next[l]%len(files)]
	s.next[l]++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Lane: l, Data: data, ContentType: http.DetectContentType(data), CapturedAt: s.clock.Now()}, nil
}

// Synthetic produces placeholder frames. It pairs with the simulated
// classifier in --dev runs when no fixtures are given.
type Synthetic struct {
	clock timeutil.Clock

	mu  sync.Mutex
	seq map[lane.Lane]int
}

// NewSynthetic returns a Synthetic source.
func NewSynthetic(clock timeutil.Clock) *Synthetic {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Synthetic{clock: clock, seq: make(map[lane.Lane]int)}
}

func (s *Synthetic) Capture(ctx context.Context, l lane.Lane) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	s.seq[l]++
	n := s.seq[l]
	s.mu.Unlock()
	return Frame{
		Lane:        l,
		Data:        []byte(fmt.Sprintf("synthetic %s #%d", l, n)),
		ContentType: "text/plain",
		CapturedAt:  s.clock.Now(),
	}, nil
}
