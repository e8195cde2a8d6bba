package proc

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrSlideUnavailable = errors.New("could not determine ASLR slide")

// Region is one mapping of the target address space.
type Region struct {
	Start uint64
	Size  uint64
	Prot  Prot
	Path  string
}

// LoaderInfo is what the dynamic loader recorded about the main image.
type LoaderInfo struct {
	// Populated is false until the loader has run.
	Populated bool
	ImageBase uint64
}

// Loader gives access to what is needed to place the image in memory.
type Loader interface {
	Memory
	LoaderInfo() (LoaderInfo, error)
	Regions() ([]Region, error)
}

// Translator computes and caches the load slide of one process.
type Translator struct {
	StaticBase uint64
	Magic      []byte
	// Path, when set, limits the region scan to mappings of that file.
	Path string

	mu       sync.Mutex
	slide    uint64
	computed bool
}

func NewTranslator(staticBase uint64, magic []byte) *Translator {
	return &Translator{StaticBase: staticBase, Magic: magic}
}

// Slide returns the cached slide. ok is false until ComputeSlide succeeded.
func (t *Translator) Slide() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slide, t.computed
}

// ComputeSlide asks the loader for the main image base and falls back to
// scanning the mapped regions for the image header.
func (t *Translator) ComputeSlide(l Loader) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.computed {
		return t.slide, nil
	}

	info, lerr := l.LoaderInfo()
	if lerr == nil && info.Populated {
		return t.set(info.ImageBase - t.StaticBase), nil
	}

	base, rerr := t.scanRegions(l)
	if rerr == nil {
		return t.set(base - t.StaticBase), nil
	}

	if lerr != nil {
		return 0, fmt.Errorf("%w: loader info: %v; %v", ErrSlideUnavailable, lerr, rerr)
	}
	return 0, fmt.Errorf("%w: %v", ErrSlideUnavailable, rerr)
}

func (t *Translator) set(slide uint64) uint64 {
	t.slide = slide
	t.computed = true
	return slide
}

func (t *Translator) scanRegions(l Loader) (uint64, error) {
	if len(t.Magic) == 0 {
		return 0, errors.New("no image header to look for")
	}
	regions, err := l.Regions()
	if err != nil {
		return 0, err
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })

	for _, r := range regions {
		if r.Prot&ProtExec == 0 || r.Size < uint64(len(t.Magic)) {
			continue
		}
		if t.Path != "" && r.Path != t.Path {
			continue
		}
		b, err := l.ReadMemory(r.Start, len(t.Magic))
		if err != nil {
			continue
		}
		if bytes.Equal(b, t.Magic) {
			return r.Start, nil
		}
	}
	return 0, errors.New("no executable region starts with the image header")
}
