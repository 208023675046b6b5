// internal/arcade/store.go
package arcade

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/user/arcadegent/internal/types"
)

// Shop is the full shop record loaded from the source JSONL.
type Shop struct {
	types.ShopSummary
	Comment    string              `json:"comment,omitempty"`
	URL        string              `json:"url,omitempty"`
	Arcades    []types.ArcadeTitle `json:"arcades,omitempty"`
	LngGCJ02   float64             `json:"longitude_gcj02,omitempty"`
	LatGCJ02   float64             `json:"latitude_gcj02,omitempty"`
	searchBlob string
}

// Location returns the shop's GCJ02 coordinates and whether they are set.
func (s *Shop) Location() (types.Location, bool) {
	if s.LngGCJ02 == 0 && s.LatGCJ02 == 0 {
		return types.Location{}, false
	}
	return types.Location{Lng: s.LngGCJ02, Lat: s.LatGCJ02}, true
}

// Query filters a shop search. Zero values mean "no filter".
type Query struct {
	Keyword      string
	ProvinceCode string
	CityCode     string
	CountyCode   string
	HasArcades   *bool
	Page         int
	PageSize     int
}

// LoadStats collects diagnostics from loading the source JSONL.
type LoadStats struct {
	TotalLines int `json:"total_lines"`
	LoadedRows int `json:"loaded_rows"`
	BadLines   int `json:"bad_lines"`
}

// Store is a read-optimized in-memory shop store built from a JSONL file.
// It is safe for concurrent readers; the data set is immutable after load.
type Store struct {
	mu         sync.RWMutex
	shops      []*Shop
	bySourceID map[int64]*Shop
	provinces  []types.Region
	cities     map[string][]types.Region
	counties   map[string][]types.Region
	stats      LoadStats
}

// NewFromJSONL loads the store from the shops JSONL file. Lines that fail
// to parse or miss required fields are counted and skipped.
func NewFromJSONL(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open arcade data: %w", err)
	}
	defer f.Close()

	var shops []*Shop
	stats := LoadStats{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		stats.TotalLines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			stats.BadLines++
			continue
		}
		var shop Shop
		if err := json.Unmarshal([]byte(line), &shop); err != nil {
			stats.BadLines++
			continue
		}
		if shop.Source == "" || shop.SourceID == 0 || shop.Name == "" {
			stats.BadLines++
			continue
		}
		shop.ArcadeCount = len(shop.Arcades)
		shop.searchBlob = buildSearchBlob(&shop)
		shops = append(shops, &shop)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan arcade data: %w", err)
	}
	stats.LoadedRows = len(shops)

	// Freshest first, stable by source_id for rows without updated_at.
	sort.SliceStable(shops, func(i, j int) bool {
		a, b := shops[i], shops[j]
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		return a.SourceID < b.SourceID
	})

	return newStore(shops, stats), nil
}

// NewEmpty returns a store with no shops. Used when no data file is present.
func NewEmpty() *Store {
	return newStore(nil, LoadStats{})
}

func newStore(shops []*Shop, stats LoadStats) *Store {
	s := &Store{
		shops:      shops,
		bySourceID: make(map[int64]*Shop, len(shops)),
		cities:     make(map[string][]types.Region),
		counties:   make(map[string][]types.Region),
		stats:      stats,
	}
	for _, shop := range shops {
		s.bySourceID[shop.SourceID] = shop
	}
	s.buildRegionIndexes()
	return s
}

func (s *Store) buildRegionIndexes() {
	provinces := map[string]string{}
	cities := map[string]map[string]string{}
	counties := map[string]map[string]string{}
	for _, shop := range s.shops {
		if shop.ProvinceCode != "" && shop.ProvinceName != "" {
			provinces[shop.ProvinceCode] = shop.ProvinceName
		}
		if shop.ProvinceCode != "" && shop.CityCode != "" && shop.CityName != "" {
			if cities[shop.ProvinceCode] == nil {
				cities[shop.ProvinceCode] = map[string]string{}
			}
			cities[shop.ProvinceCode][shop.CityCode] = shop.CityName
		}
		if shop.CityCode != "" && shop.CountyCode != "" && shop.CountyName != "" {
			if counties[shop.CityCode] == nil {
				counties[shop.CityCode] = map[string]string{}
			}
			counties[shop.CityCode][shop.CountyCode] = shop.CountyName
		}
	}
	s.provinces = sortedRegions(provinces)
	for code, entries := range cities {
		s.cities[code] = sortedRegions(entries)
	}
	for code, entries := range counties {
		s.counties[code] = sortedRegions(entries)
	}
}

func sortedRegions(m map[string]string) []types.Region {
	out := make([]types.Region, 0, len(m))
	for code, name := range m {
		out = append(out, types.Region{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Search filters and paginates shops with deterministic order. The returned
// total counts all matches, not just the returned page. Zero matches is a
// normal outcome.
func (s *Store) Search(q Query) ([]*Shop, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = 5
	}

	terms := keywordTerms(q.Keyword)
	var matched []*Shop
	for _, shop := range s.shops {
		if q.ProvinceCode != "" && shop.ProvinceCode != q.ProvinceCode {
			continue
		}
		if q.CityCode != "" && shop.CityCode != q.CityCode {
			continue
		}
		if q.CountyCode != "" && shop.CountyCode != q.CountyCode {
			continue
		}
		if q.HasArcades != nil {
			if *q.HasArcades && shop.ArcadeCount <= 0 {
				continue
			}
			if !*q.HasArcades && shop.ArcadeCount > 0 {
				continue
			}
		}
		if len(terms) > 0 && !matchesAll(shop.searchBlob, terms) {
			continue
		}
		matched = append(matched, shop)
	}

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// Get fetches one shop by source id.
func (s *Store) Get(sourceID int64) (*Shop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shop, ok := s.bySourceID[sourceID]
	return shop, ok
}

// Provinces returns all provinces sorted by code.
func (s *Store) Provinces() []types.Region { return s.provinces }

// Cities returns the city list under one province code.
func (s *Store) Cities(provinceCode string) []types.Region { return s.cities[provinceCode] }

// Counties returns the county list under one city code.
func (s *Store) Counties(cityCode string) []types.Region { return s.counties[cityCode] }

// Stats exposes load diagnostics for the health endpoint.
func (s *Store) Stats() LoadStats { return s.stats }

var termSplitter = regexp.MustCompile(`[\s,.;!?|/\\，。；！？、]+`)

// keywordTerms splits a keyword into deduplicated lowercase terms,
// preserving order to keep matching deterministic.
func keywordTerms(keyword string) []string {
	normalized := strings.ToLower(strings.TrimSpace(keyword))
	if normalized == "" {
		return nil
	}
	parts := termSplitter.Split(normalized, -1)
	seen := map[string]bool{}
	var terms []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		terms = append(terms, part)
	}
	return terms
}

func matchesAll(blob string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(blob, term) {
			return false
		}
	}
	return true
}

func buildSearchBlob(shop *Shop) string {
	chunks := []string{
		shop.Name,
		shop.NamePinyin,
		shop.Address,
		shop.Transport,
		shop.Comment,
		shop.ProvinceName,
		shop.CityName,
		shop.CountyName,
		shop.ProvinceCode,
		shop.CityCode,
		shop.CountyCode,
	}
	for _, title := range shop.Arcades {
		chunks = append(chunks, title.TitleName, title.Version, title.Comment)
	}
	return strings.ToLower(strings.Join(chunks, " "))
}
