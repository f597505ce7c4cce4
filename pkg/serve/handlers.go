package serve

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/inktime/pkg/inktime"
)

//go:embed assets/review.tmpl
var reviewTmpl string

//go:embed assets/files.tmpl
var filesTmpl string

//go:embed assets/sim.tmpl
var simTmpl string

// ReviewPageSize is the number of photos on each review page.
var ReviewPageSize = 100

// IndexHandler redirects to the review page, or reports that the server is up.
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.c.EnableWebUI {
			http.Redirect(w, r, "/review", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("inktime server running. web UI disabled.\n"))
	}
}

// DownloadHandler serves the daily frames to the panel.
func (s *Server) DownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.c.DownloadKey == "" || r.PathValue("key") != s.c.DownloadKey {
			http.NotFound(w, r)
			return
		}

		name := r.PathValue("name")
		switch {
		case name == inktime.LatestName, name == inktime.PreviewName:
		case strings.HasPrefix(name, "photo_") && strings.HasSuffix(name, ".bin"):
			i, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "photo_"), ".bin"))
			if err != nil || i < 0 || i >= s.c.DailyQuantity {
				http.NotFound(w, r)
				return
			}
		default:
			http.NotFound(w, r)
			return
		}

		serveFile(w, r, filepath.Join(s.c.OutDir, name))
	}
}

type reviewItem struct {
	*inktime.Photo
	URL string
}

func (i reviewItem) Day() string {
	if i.Taken.IsZero() {
		return ""
	}
	return inktime.Day(i.Taken)
}

// MonthDay returns the MM-DD of the capture day, used by the review filters.
func (i reviewItem) MonthDay() string {
	if i.Taken.IsZero() {
		return ""
	}
	return i.Taken.Format("01-02")
}

func (i reviewItem) ExifSummary() string {
	return inktime.SummarizeExif(i.ExifJSON)
}

func sortKey(v *float64) string {
	if v == nil {
		return "-1"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (i reviewItem) MemoryKey() string { return sortKey(i.Memory) }
func (i reviewItem) BeautyKey() string { return sortKey(i.Beauty) }

func (i reviewItem) Scores() string {
	var parts []string
	if i.Memory != nil {
		parts = append(parts, "memory: "+strconv.FormatFloat(*i.Memory, 'f', 1, 64))
	}
	if i.Beauty != nil {
		parts = append(parts, "beauty: "+strconv.FormatFloat(*i.Beauty, 'f', 1, 64))
	}
	return strings.Join(parts, " / ")
}

type monthOption struct {
	Value string
	Name  string
}

var (
	months []monthOption
	days   []int
)

func init() {
	for m := time.January; m <= time.December; m++ {
		months = append(months, monthOption{Value: fmt.Sprintf("%02d", int(m)), Name: m.String()})
	}
	for d := 1; d <= 31; d++ {
		days = append(days, d)
	}
}

// ReviewHandler lists the catalog, best memories first.
func (s *Server) ReviewHandler() http.HandlerFunc {
	tmpl := template.Must(template.New("review").Parse(reviewTmpl))
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}

		ps, total, err := s.catalog.Page(page, ReviewPageSize)
		if err != nil {
			klog.Errorf("review page %d: %v", page, err)
			http.Error(w, "catalog unavailable", http.StatusInternalServerError)
			return
		}
		if len(ps) == 0 {
			http.Error(w, "no photos in the catalog yet", http.StatusNotFound)
			return
		}

		var items []reviewItem
		for _, p := range ps {
			u := s.imageURL(p.Path)
			if u == "" {
				continue
			}
			items = append(items, reviewItem{Photo: p, URL: u})
		}

		pages := (total + ReviewPageSize - 1) / ReviewPageSize
		data := struct {
			Page   int
			Pages  int
			Total  int
			Prev   int
			Next   int
			Items  []reviewItem
			Months []monthOption
			Days   []int
		}{
			Page:   page,
			Pages:  pages,
			Total:  total,
			Items:  items,
			Months: months,
			Days:   days,
		}
		if page > 1 {
			data.Prev = page - 1
		}
		if page < pages {
			data.Next = page + 1
		}

		render(w, tmpl, data)
	}
}

// ImageHandler serves originals from the image directory.
func (s *Server) ImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := safeJoin(s.c.ImageDir, r.PathValue("path"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		serveFile(w, r, p)
	}
}

// RenderHandler composes and dithers an /images/ photo and returns it as PNG.
func (s *Server) RenderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := r.URL.Query().Get("img")
		if !strings.HasPrefix(u, "/images/") {
			http.Error(w, "img must be an /images/ path", http.StatusBadRequest)
			return
		}
		p, err := safeJoin(s.c.ImageDir, strings.TrimPrefix(u, "/images/"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if st, err := os.Stat(p); err != nil || !st.Mode().IsRegular() {
			http.NotFound(w, r)
			return
		}

		photo, err := s.catalog.Get(p)
		if err != nil {
			klog.Warningf("catalog lookup for %s: %v", p, err)
		}
		if photo == nil {
			klog.V(1).Infof("%s is not in the catalog, rendering without caption", p)
			photo = &inktime.Photo{Path: p}
		}

		img, err := inktime.Render(s.layout, photo, s.c.Palette)
		if err != nil {
			klog.Errorf("render %s: %v", p, err)
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		if err := inktime.EncodePNG(&buf, img); err != nil {
			klog.Errorf("encode %s: %v", p, err)
			http.Error(w, "encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}
}

type pickPhoto struct {
	Path        string   `json:"path"`
	URL         string   `json:"url,omitempty"`
	Date        string   `json:"date"`
	Memory      *float64 `json:"memory"`
	Beauty      *float64 `json:"beauty"`
	Caption     string   `json:"caption,omitempty"`
	SideCaption string   `json:"side,omitempty"`
	Location    string   `json:"location,omitempty"`
	Type        string   `json:"type,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Width       int64    `json:"width,omitempty"`
	Height      int64    `json:"height,omitempty"`
	Orientation string   `json:"orientation,omitempty"`
	UsedAt      string   `json:"usedAt,omitempty"`
	ExifSummary string   `json:"exifSummary,omitempty"`
	ExifJSON    string   `json:"exif,omitempty"`
}

type pickResponse struct {
	Found    bool       `json:"found"`
	Date     string     `json:"date"`
	DateUsed string     `json:"dateUsed,omitempty"`
	Fallback bool       `json:"fallback"`
	Photo    *pickPhoto `json:"photo,omitempty"`
}

func (s *Server) photoJSON(p *inktime.Photo) *pickPhoto {
	pp := &pickPhoto{
		Path:        p.Path,
		URL:         s.imageURL(p.Path),
		Memory:      p.Memory,
		Beauty:      p.Beauty,
		Caption:     p.Caption,
		SideCaption: p.SideCaption,
		Location:    p.Location(),
		Type:        p.Type,
		Reason:      p.Reason,
		Width:       p.Width,
		Height:      p.Height,
		Orientation: p.Orientation,
		ExifSummary: inktime.SummarizeExif(p.ExifJSON),
		ExifJSON:    p.ExifJSON,
	}
	if !p.Taken.IsZero() {
		pp.Date = inktime.Day(p.Taken)
	}
	if p.UsedAt != nil {
		pp.UsedAt = p.UsedAt.Format(inktime.UsedAtFormat)
	}
	return pp
}

func (s *Server) pickResponse(target time.Time, pk inktime.Pick, found bool) pickResponse {
	resp := pickResponse{Found: found, Date: inktime.Day(target)}
	if !found {
		return resp
	}
	resp.DateUsed = inktime.Day(pk.DateUsed)
	resp.Fallback = pk.Fallback
	resp.Photo = s.photoJSON(pk.Photo)
	return resp
}

func dateParam(r *http.Request) (time.Time, error) {
	d := r.URL.Query().Get("date")
	if d == "" {
		return time.Now(), nil
	}
	return inktime.ParseDay(d)
}

// PickHandler picks a photo for ?date=YYYY-MM-DD (default today).
func (s *Server) PickHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := dateParam(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date"})
			return
		}
		pk, found := s.selector.Pick(s.idx.Load(), d)
		writeJSON(w, http.StatusOK, s.pickResponse(d, pk, found))
	}
}

// RerollHandler picks again for ?date=, avoiding ?current= when the day allows.
func (s *Server) RerollHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := dateParam(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date"})
			return
		}
		var cur *inktime.Photo
		if c := r.URL.Query().Get("current"); c != "" {
			cur = &inktime.Photo{Path: c}
		}
		pk, found := s.selector.Reroll(s.idx.Load(), d, cur)
		writeJSON(w, http.StatusOK, s.pickResponse(d, pk, found))
	}
}

// SimHandler shows a panel simulator: the rendered frame for a photo plus
// its catalog record, with controls to pick by date and reroll the day.
// ?img=/images/... opens a specific photo, otherwise ?date= (default today)
// is picked.
func (s *Server) SimHandler() http.HandlerFunc {
	tmpl := template.Must(template.New("sim").Parse(simTmpl))
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := dateParam(r)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}

		var initial pickResponse
		if u := r.URL.Query().Get("img"); u != "" {
			if !strings.HasPrefix(u, "/images/") {
				http.Error(w, "img must be an /images/ path", http.StatusBadRequest)
				return
			}
			p, err := safeJoin(s.c.ImageDir, strings.TrimPrefix(u, "/images/"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			photo, err := s.catalog.Get(p)
			if err != nil {
				klog.Warningf("catalog lookup for %s: %v", p, err)
			}
			if photo == nil {
				photo = &inktime.Photo{Path: p}
			}
			initial = pickResponse{Found: true, Photo: s.photoJSON(photo)}
			if !photo.Taken.IsZero() {
				initial.Date = inktime.Day(photo.Taken)
				initial.DateUsed = initial.Date
			}
		} else {
			pk, found := s.selector.Pick(s.idx.Load(), d)
			initial = s.pickResponse(d, pk, found)
		}

		render(w, tmpl, struct {
			Initial  pickResponse
			Lookback int
			Width    int
			Height   int
		}{
			Initial:  initial,
			Lookback: s.c.MaxLookback,
			Width:    s.c.Width,
			Height:   s.c.Height,
		})
	}
}

type fileEntry struct {
	Name string
	Href string
}

// FilesHandler browses the output directory.
func (s *Server) FilesHandler() http.HandlerFunc {
	tmpl := template.Must(template.New("files").Parse(filesTmpl))
	return func(w http.ResponseWriter, r *http.Request) {
		rel := r.PathValue("path")
		p, err := safeJoin(s.c.OutDir, rel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		st, err := os.Stat(p)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if st.Mode().IsRegular() {
			serveFile(w, r, p)
			return
		}
		if !st.IsDir() {
			http.NotFound(w, r)
			return
		}

		des, err := os.ReadDir(p)
		if err != nil {
			klog.Errorf("readdir %s: %v", p, err)
			http.Error(w, "unable to list directory", http.StatusInternalServerError)
			return
		}
		sort.SliceStable(des, func(i, j int) bool {
			if des[i].IsDir() != des[j].IsDir() {
				return des[i].IsDir()
			}
			return strings.ToLower(des[i].Name()) < strings.ToLower(des[j].Name())
		})

		cur := strings.Trim(filepath.ToSlash(rel), "/")
		var es []fileEntry
		for _, de := range des {
			name := de.Name()
			href := "/files/" + strings.TrimPrefix(cur+"/"+name, "/")
			if de.IsDir() {
				name += "/"
			}
			es = append(es, fileEntry{Name: name, Href: href})
		}

		data := struct {
			Current string
			Up      string
			Entries []fileEntry
		}{Current: cur, Entries: es}
		if cur == "" {
			data.Current = "."
		} else {
			data.Up = "/files/" + strings.TrimPrefix(filepath.ToSlash(filepath.Dir(cur)), ".")
		}

		render(w, tmpl, data)
	}
}

func render(w http.ResponseWriter, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		klog.Errorf("execute %s: %v", tmpl.Name(), err)
		http.Error(w, "template failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func serveFile(w http.ResponseWriter, r *http.Request, p string) {
	st, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !st.Mode().IsRegular()) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		klog.Errorf("stat %s: %v", p, err)
		http.Error(w, "unable to read file", http.StatusInternalServerError)
		return
	}
	if filepath.Ext(p) == ".bin" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	http.ServeFile(w, r, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Errorf("encode json: %v", err)
	}
}
