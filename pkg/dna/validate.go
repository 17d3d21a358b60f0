package dna

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shouni/archsheet-kit/pkg/domain"
)

// ErrInvalid は DNA が検証に失敗したことを示します。
var ErrInvalid = errors.New("invalid design DNA")

const (
	MaxFloors          = 6
	maxRoomAreaRatio   = 1.3
	maxPlausibleLength = 200.0
)

// Validate は正規化済み DNA の整合性を検証し、全ての問題をまとめて返します。
func Validate(d *domain.DesignDNA) error {
	var errs []error
	dim := d.Dimensions

	if dim.Length <= 0 || dim.Width <= 0 || dim.Height <= 0 {
		errs = append(errs, fmt.Errorf("dimensions must be positive (length=%.2f width=%.2f height=%.2f)", dim.Length, dim.Width, dim.Height))
	}
	if dim.Length > maxPlausibleLength {
		errs = append(errs, fmt.Errorf("length %.2fm exceeds %.0fm", dim.Length, maxPlausibleLength))
	}
	if dim.Floors < 1 || dim.Floors > MaxFloors {
		errs = append(errs, fmt.Errorf("floors must be between 1 and %d, got %d", MaxFloors, dim.Floors))
	}
	if len(d.Materials) == 0 {
		errs = append(errs, errors.New("at least one material is required"))
	}

	var roomArea float64
	for _, r := range d.Rooms {
		if r.Floor < 0 || r.Floor >= dim.Floors {
			errs = append(errs, fmt.Errorf("room %q is on floor %d outside 0..%d", r.Name, r.Floor, dim.Floors-1))
		}
		roomArea += r.Area
	}
	if dim.TotalArea > 0 && roomArea > dim.TotalArea*maxRoomAreaRatio {
		errs = append(errs, fmt.Errorf("room areas %.1fm² exceed %.0f%% of total area %.1fm²", roomArea, maxRoomAreaRatio*100, dim.TotalArea))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Fingerprint は DNA の内容ハッシュを返します。
// シードとバージョンは含めないため、同じ設計内容なら同じ値になります。
func Fingerprint(d *domain.DesignDNA) string {
	c := *d
	c.Seed = 0
	c.Version = 0
	c.Materials = append([]domain.Material(nil), d.Materials...)
	c.Rooms = append([]domain.Room(nil), d.Rooms...)
	sort.Slice(c.Materials, func(i, j int) bool {
		if c.Materials[i].Application != c.Materials[j].Application {
			return c.Materials[i].Application < c.Materials[j].Application
		}
		return c.Materials[i].Name < c.Materials[j].Name
	})
	sort.Slice(c.Rooms, func(i, j int) bool {
		if c.Rooms[i].Floor != c.Rooms[j].Floor {
			return c.Rooms[i].Floor < c.Rooms[j].Floor
		}
		return c.Rooms[i].Name < c.Rooms[j].Name
	})

	// encoding/json は map のキーをソートして出力するため、結果は決定的です。
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
