package inktime

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// UsedAtFormat is how display timestamps are stored in the catalog.
var UsedAtFormat = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS photo_scores (
	path          TEXT PRIMARY KEY,
	caption       TEXT,
	type          TEXT,
	memory_score  REAL,
	beauty_score  REAL,
	reason        TEXT,
	side_caption  TEXT,
	exif_json     TEXT,
	width         INTEGER,
	height        INTEGER,
	orientation   TEXT,
	used_at       TEXT,
	exif_gps_lat  REAL,
	exif_gps_lon  REAL,
	exif_city     TEXT
)`

const photoColumns = `path, caption, type, memory_score, beauty_score, reason, side_caption,
	exif_json, width, height, orientation, used_at, exif_gps_lat, exif_gps_lon, exif_city`

// Catalog is a SQLite-backed store of scored photos.
type Catalog struct {
	db   *sql.DB
	path string
}

// OpenCatalog opens (and if necessary creates) the catalog at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

// Path returns the location of the catalog database.
func (c *Catalog) Path() string {
	return c.path
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// All returns every photo in the catalog.
func (c *Catalog) All() ([]*Photo, error) {
	rows, err := c.db.Query(`SELECT ` + photoColumns + ` FROM photo_scores ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return scanPhotos(rows)
}

// Page returns one page of photos ordered by memory score, beauty score and path,
// along with the total photo count.
func (c *Catalog) Page(page int, size int) ([]*Photo, int, error) {
	if page < 1 {
		page = 1
	}
	var total int
	if err := c.db.QueryRow(`SELECT COUNT(1) FROM photo_scores`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	rows, err := c.db.Query(`SELECT `+photoColumns+` FROM photo_scores
		ORDER BY COALESCE(memory_score, -1) DESC, COALESCE(beauty_score, -1) DESC, path
		LIMIT ? OFFSET ?`, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("query page: %w", err)
	}
	ps, err := scanPhotos(rows)
	return ps, total, err
}

// Get returns the photo stored under path, or nil if there is none.
func (c *Catalog) Get(path string) (*Photo, error) {
	rows, err := c.db.Query(`SELECT `+photoColumns+` FROM photo_scores WHERE path = ? LIMIT 1`, path)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}
	ps, err := scanPhotos(rows)
	if err != nil || len(ps) == 0 {
		return nil, err
	}
	return ps[0], nil
}

// Index builds a read-only day index from the current catalog contents.
func (c *Catalog) Index() (*Index, error) {
	ps, err := c.All()
	if err != nil {
		return nil, err
	}
	return NewIndex(ps), nil
}

// MarkUsed records that a photo was sent to the display at t.
func (c *Catalog) MarkUsed(path string, t time.Time) error {
	_, err := c.db.Exec(`UPDATE photo_scores SET used_at = ? WHERE path = ?`, t.Format(UsedAtFormat), path)
	if err != nil {
		return fmt.Errorf("mark used %s: %w", path, err)
	}
	return nil
}

// PutExif inserts or refreshes the EXIF-derived columns of a photo, leaving
// scores and captions alone.
func (c *Catalog) PutExif(p *Photo) error {
	var lat, lon any
	if p.GPS != nil {
		lat, lon = p.GPS.Lat, p.GPS.Lon
	}
	_, err := c.db.Exec(`INSERT INTO photo_scores (path, exif_json, width, height, orientation, exif_gps_lat, exif_gps_lon)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			exif_json = excluded.exif_json,
			width = excluded.width,
			height = excluded.height,
			orientation = excluded.orientation,
			exif_gps_lat = excluded.exif_gps_lat,
			exif_gps_lon = excluded.exif_gps_lon`,
		p.Path, p.ExifJSON, p.Width, p.Height, p.Orientation, lat, lon)
	if err != nil {
		return fmt.Errorf("put %s: %w", p.Path, err)
	}
	return nil
}

// Put stores every column of a photo, replacing any existing row.
func (c *Catalog) Put(p *Photo) error {
	var lat, lon any
	if p.GPS != nil {
		lat, lon = p.GPS.Lat, p.GPS.Lon
	}
	var used any
	if p.UsedAt != nil {
		used = p.UsedAt.Format(UsedAtFormat)
	}
	exif := p.ExifJSON
	if exif == "" && !p.Taken.IsZero() {
		bs, err := json.Marshal(ExifSummary{DateTime: p.Taken.Format(exifDate)})
		if err != nil {
			return fmt.Errorf("marshal exif: %w", err)
		}
		exif = string(bs)
	}
	_, err := c.db.Exec(`INSERT OR REPLACE INTO photo_scores (`+photoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Path, p.Caption, p.Type, p.Memory, p.Beauty, p.Reason, p.SideCaption,
		exif, p.Width, p.Height, p.Orientation, used, lat, lon, p.City)
	if err != nil {
		return fmt.Errorf("put %s: %w", p.Path, err)
	}
	return nil
}

func scanPhotos(rows *sql.Rows) ([]*Photo, error) {
	defer rows.Close()

	var ps []*Photo
	for rows.Next() {
		var (
			caption, ptype, reason, side, exif, orientation, used, city sql.NullString
			memory, beauty, lat, lon                                    sql.NullFloat64
			width, height                                               sql.NullInt64
		)
		p := &Photo{}
		if err := rows.Scan(&p.Path, &caption, &ptype, &memory, &beauty, &reason, &side,
			&exif, &width, &height, &orientation, &used, &lat, &lon, &city); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		p.Caption = caption.String
		p.Type = ptype.String
		p.Reason = reason.String
		p.SideCaption = side.String
		p.ExifJSON = exif.String
		p.Orientation = orientation.String
		p.City = city.String
		p.Width = width.Int64
		p.Height = height.Int64

		if memory.Valid {
			v := memory.Float64
			p.Memory = &v
		}
		if beauty.Valid {
			v := beauty.Float64
			p.Beauty = &v
		}
		if lat.Valid && lon.Valid {
			p.GPS = &GPS{Lat: lat.Float64, Lon: lon.Float64}
		}
		if used.Valid && used.String != "" {
			if t, err := time.Parse(UsedAtFormat, used.String); err == nil {
				p.UsedAt = &t
			} else {
				klog.V(1).Infof("%s: unparseable used_at %q", p.Path, used.String)
			}
		}
		p.Taken = takenFromExif(p.ExifJSON)
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

// ExifSummary is the subset of EXIF kept in the catalog's exif_json column.
type ExifSummary struct {
	DateTime     string   `json:"datetime,omitempty"`
	Make         string   `json:"make,omitempty"`
	Model        string   `json:"model,omitempty"`
	ISO          int64    `json:"iso,omitempty"`
	ExposureTime string   `json:"exposure_time,omitempty"`
	FNumber      float64  `json:"f_number,omitempty"`
	FocalLength  string   `json:"focal_length,omitempty"`
	GPSLat       *float64 `json:"gps_lat,omitempty"`
	GPSLon       *float64 `json:"gps_lon,omitempty"`
}

// takenFromExif extracts the capture day from an exif_json blob such as
// {"datetime": "2018:03:18 09:12:44"}. Only the datetime key is read, since
// other writers of the column use their own types for the remaining keys.
// It returns the zero time if there is none.
func takenFromExif(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	var e struct {
		DateTime string `json:"datetime"`
	}
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		klog.V(1).Infof("unparseable exif_json %q: %v", s, err)
		return time.Time{}
	}
	fs := strings.Fields(e.DateTime)
	if len(fs) == 0 {
		return time.Time{}
	}
	t, err := ParseDay(strings.ReplaceAll(fs[0], ":", "-"))
	if err != nil {
		klog.V(1).Infof("unparseable exif datetime %q: %v", e.DateTime, err)
		return time.Time{}
	}
	return t
}

// SummarizeExif renders an exif_json blob as one human-readable line:
// capture time, camera, exposure settings and GPS position. Values are
// printed as stored, whatever their JSON type.
func SummarizeExif(s string) string {
	if s == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return ""
	}
	str := func(k string) string {
		switch v := m[k].(type) {
		case nil:
			return ""
		case string:
			return strings.TrimSpace(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return fmt.Sprint(v)
		}
	}

	var parts []string
	if v := str("datetime"); v != "" {
		parts = append(parts, "taken "+v)
	}
	if cam := strings.TrimSpace(str("make") + " " + str("model")); cam != "" {
		parts = append(parts, "camera "+cam)
	}

	var exp []string
	for _, f := range []struct{ key, label string }{
		{"iso", "ISO"},
		{"exposure_time", "shutter"},
		{"f_number", "aperture"},
		{"focal_length", "focal length"},
	} {
		if v := str(f.key); v != "" && v != "0" {
			exp = append(exp, f.label+" "+v)
		}
	}
	if len(exp) > 0 {
		parts = append(parts, strings.Join(exp, " / "))
	}

	lat, latOK := m["gps_lat"].(float64)
	lon, lonOK := m["gps_lon"].(float64)
	switch {
	case latOK && lonOK:
		parts = append(parts, "GPS "+formatGPS(GPS{Lat: lat, Lon: lon}))
	case m["gps_lat"] != nil && m["gps_lon"] != nil:
		parts = append(parts, "GPS "+str("gps_lat")+", "+str("gps_lon"))
	}

	return strings.Join(parts, "; ")
}
