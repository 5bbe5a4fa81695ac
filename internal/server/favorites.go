package server

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	defaultFavoriteMode = "FM"

	// favorites closer than this are the same frequency
	favoriteToleranceMHz = 0.01
)

var (
	// ErrDuplicateFavorite is returned by Add for a frequency already saved
	ErrDuplicateFavorite = errors.New("frequency already in favorites")

	// ErrFavoriteNotFound is returned by Remove for an index out of range
	ErrFavoriteNotFound = errors.New("invalid index")

	// ErrInvalidFavorite is returned by Add for a frequency that is not positive
	ErrInvalidFavorite = errors.New("invalid freq")
)

// Favorite is a frequency saved by the user
type Favorite struct {
	Frequency float64 `yaml:"freq" json:"freq"` // MHz
	Mode      string  `yaml:"mode" json:"mode"`
	Name      string  `yaml:"name" json:"name"`
}

type favoritesFile struct {
	Favorites []Favorite `yaml:"favorites"`
}

// Favorites is the list of saved frequencies. With a path every change is
// written to that YAML file; without one the list lives in memory.
type Favorites struct {
	path string

	mu        sync.Mutex
	favorites []Favorite
}

// NewFavorites returns an empty list kept in memory
func NewFavorites() *Favorites {
	return &Favorites{}
}

// LoadFavorites reads the list saved at path. A missing file is an empty
// list; the file is created on the first change.
func LoadFavorites(path string) (*Favorites, error) {
	f := &Favorites{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading favorites: %w", err)
	}

	var file favoritesFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing favorites %s: %w", path, err)
	}
	f.favorites = file.Favorites
	return f, nil
}

// List returns a copy of the saved frequencies in the order they were added
func (f *Favorites) List() []Favorite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.favorites)
}

// Add saves a frequency. The mode is upper-cased and defaults to FM.
func (f *Favorites) Add(fav Favorite) ([]Favorite, error) {
	if fav.Frequency <= 0 || math.IsNaN(fav.Frequency) || math.IsInf(fav.Frequency, 0) {
		return nil, ErrInvalidFavorite
	}

	fav.Mode = strings.ToUpper(strings.TrimSpace(fav.Mode))
	if fav.Mode == "" {
		fav.Mode = defaultFavoriteMode
	}
	if fav.Name == "" {
		fav.Name = fmt.Sprintf("%.3f MHz", fav.Frequency)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if slices.ContainsFunc(f.favorites, func(e Favorite) bool {
		return math.Abs(e.Frequency-fav.Frequency) < favoriteToleranceMHz
	}) {
		return nil, ErrDuplicateFavorite
	}

	favorites := append(slices.Clone(f.favorites), fav)
	if err := f.save(favorites); err != nil {
		return nil, err
	}
	f.favorites = favorites
	return slices.Clone(favorites), nil
}

// Remove deletes the favorite at index and returns it
func (f *Favorites) Remove(index int) (Favorite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if index < 0 || index >= len(f.favorites) {
		return Favorite{}, ErrFavoriteNotFound
	}

	removed := f.favorites[index]
	favorites := slices.Delete(slices.Clone(f.favorites), index, index+1)
	if err := f.save(favorites); err != nil {
		return Favorite{}, err
	}
	f.favorites = favorites
	return removed, nil
}

// Clear deletes every favorite
func (f *Favorites) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.save(nil); err != nil {
		return err
	}
	f.favorites = nil
	return nil
}

// save must be called with mu held. The file is replaced atomically.
func (f *Favorites) save(favorites []Favorite) error {
	if f.path == "" {
		return nil
	}

	data, err := yaml.Marshal(favoritesFile{Favorites: favorites})
	if err != nil {
		return fmt.Errorf("marshaling favorites: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating favorites directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing favorites: %w", err)
	}
	if err = os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing favorites: %w", err)
	}
	return nil
}
