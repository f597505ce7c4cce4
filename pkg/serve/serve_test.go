package serve

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/google/go-cmp/cmp"

	"github.com/tstromberg/inktime/pkg/inktime"
)

// cycleRand returns 0, 1, 2, ... modulo n.
type cycleRand struct{ calls int }

func (r *cycleRand) Intn(n int) int {
	v := r.calls % n
	r.calls++
	return v
}

func score(v float64) *float64 { return &v }

type fixture struct {
	c   *inktime.Config
	cat *inktime.Catalog
	s   *Server
}

func newFixture(t *testing.T, modify func(*inktime.Config)) *fixture {
	t.Helper()
	c := inktime.DefaultConfig()
	c.DBPath = filepath.Join(t.TempDir(), "photos.db")
	c.ImageDir = t.TempDir()
	c.OutDir = t.TempDir()
	c.DownloadKey = "sekrit"
	c.Width = 40
	c.Height = 60
	c.DailyQuantity = 2
	if modify != nil {
		modify(c)
	}

	cat, err := inktime.OpenCatalog(c.DBPath)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	taken, err := inktime.ParseDay("2024-06-01")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	for i, name := range []string{"a.png", "b.png"} {
		p := filepath.Join(c.ImageDir, name)
		img := image.NewNRGBA(image.Rect(0, 0, 30, 20))
		for j := 0; j < len(img.Pix); j += 4 {
			img.Pix[j], img.Pix[j+3] = uint8(100*i+50), 255
		}
		if err := imgio.Save(p, img, imgio.PNGEncoder()); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := cat.Put(&inktime.Photo{Path: p, Taken: taken, Memory: score(90), City: "Leuven"}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	s, err := New(c, cat, &cycleRand{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{c: c, cat: cat, s: s}
}

func (f *fixture) get(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	return w
}

func (f *fixture) pick(t *testing.T, url string) pickResponse {
	t.Helper()
	w := f.get(t, url)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s = %d: %s", url, w.Code, w.Body)
	}
	var resp pickResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func TestDownload(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{"photo_0.bin", "latest.bin", "preview.png"} {
		if err := os.WriteFile(filepath.Join(f.c.OutDir, name), []byte("frame"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// beyond the daily quantity, never served
	if err := os.WriteFile(filepath.Join(f.c.OutDir, "photo_7.bin"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		url  string
		code int
	}{
		{"/static/inktime/sekrit/latest.bin", http.StatusOK},
		{"/static/inktime/sekrit/photo_0.bin", http.StatusOK},
		{"/static/inktime/sekrit/preview.png", http.StatusOK},
		{"/static/inktime/wrong/latest.bin", http.StatusNotFound},
		{"/static/inktime/sekrit/photo_1.bin", http.StatusNotFound},
		{"/static/inktime/sekrit/photo_7.bin", http.StatusNotFound},
		{"/static/inktime/sekrit/photo_-1.bin", http.StatusNotFound},
		{"/static/inktime/sekrit/photos.db", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			w := f.get(t, tc.url)
			if w.Code != tc.code {
				t.Errorf("code = %d, want %d", w.Code, tc.code)
			}
		})
	}

	w := f.get(t, "/static/inktime/sekrit/latest.bin")
	if got := w.Header().Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if w.Body.String() != "frame" {
		t.Errorf("body = %q", w.Body)
	}
}

func TestPick(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.pick(t, "/api/pick?date=2024-06-03")
	if !resp.Found || resp.DateUsed != "2024-06-01" || resp.Fallback {
		t.Fatalf("pick = %+v", resp)
	}
	if !strings.HasPrefix(resp.Photo.URL, "/images/") || resp.Photo.Location != "Leuven" {
		t.Errorf("photo = %+v", resp.Photo)
	}

	again := f.pick(t, "/api/reroll?date=2024-06-01&current="+resp.Photo.Path)
	if !again.Found || again.Photo.Path == resp.Photo.Path {
		t.Errorf("reroll returned %+v, want the other photo", again.Photo)
	}

	none := f.pick(t, "/api/pick?date=1999-01-01")
	if diff := cmp.Diff(pickResponse{Date: "1999-01-01"}, none); diff != "" {
		t.Errorf("not found mismatch (-want +got):\n%s", diff)
	}

	if w := f.get(t, "/api/pick?date=June"); w.Code != http.StatusBadRequest {
		t.Errorf("bad date code = %d", w.Code)
	}
}

func TestReload(t *testing.T) {
	f := newFixture(t, nil)
	if f.pick(t, "/api/pick?date=2025-02-02").Found {
		t.Fatalf("found a photo before it was added")
	}

	taken, _ := inktime.ParseDay("2025-02-01")
	if err := f.cat.Put(&inktime.Photo{Path: filepath.Join(f.c.ImageDir, "new.jpg"), Taken: taken}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := f.s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	resp := f.pick(t, "/api/pick?date=2025-02-02")
	if !resp.Found || !resp.Fallback || resp.DateUsed != "2025-02-01" {
		t.Errorf("after reload: %+v", resp)
	}
}

func TestRender(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get(t, "/render?img=/images/a.png")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body)
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 40, 60) {
		t.Errorf("bounds = %v", img.Bounds())
	}
	pal := map[color.NRGBA]bool{}
	for _, c := range f.c.Palette {
		pal[c] = true
	}
	if c := color.NRGBAModel.Convert(img.At(5, 5)).(color.NRGBA); !pal[c] {
		t.Errorf("pixel %v is not a palette color", c)
	}

	tests := []struct {
		url  string
		code int
	}{
		{"/render?img=/images/../../etc/passwd", http.StatusBadRequest},
		{"/render?img=/etc/passwd", http.StatusBadRequest},
		{"/render", http.StatusBadRequest},
		{"/render?img=/images/missing.png", http.StatusNotFound},
	}
	for _, tc := range tests {
		if w := f.get(t, tc.url); w.Code != tc.code {
			t.Errorf("GET %s = %d, want %d", tc.url, w.Code, tc.code)
		}
	}
}

func TestReview(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get(t, "/")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/review" {
		t.Errorf("GET / = %d to %q", w.Code, w.Header().Get("Location"))
	}

	w = f.get(t, "/review")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body)
	}
	for _, want := range []string{
		`src="/images/a.png"`,
		`src="/images/b.png"`,
		`href="/sim?img=%2fimages%2fa.png"`,
		`data-md="06-01"`,
		`data-memory="90"`,
		"taken 2024:06:01 00:00:00",
		"memory: 90.0",
		"2 total",
		`<option value="06">June</option>`,
	} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("review page lacks %q", want)
		}
	}

	if w := f.get(t, "/images/b.png"); w.Code != http.StatusOK {
		t.Errorf("image code = %d", w.Code)
	}
}

func TestWebUIDisabled(t *testing.T) {
	f := newFixture(t, func(c *inktime.Config) { c.EnableWebUI = false })
	if err := os.WriteFile(filepath.Join(f.c.OutDir, "latest.bin"), []byte("frame"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, u := range []string{"/review", "/images/a.png", "/render?img=/images/a.png", "/api/pick", "/api/reroll", "/files/", "/sim"} {
		if w := f.get(t, u); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", u, w.Code)
		}
	}
	if w := f.get(t, "/"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "web UI disabled") {
		t.Errorf("GET / = %d %q", w.Code, w.Body)
	}
	if w := f.get(t, "/static/inktime/sekrit/latest.bin"); w.Code != http.StatusOK {
		t.Errorf("download code = %d", w.Code)
	}
}

func TestFiles(t *testing.T) {
	f := newFixture(t, nil)
	if err := os.Mkdir(filepath.Join(f.c.OutDir, "old"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.bin", "A.png", "old/photo_0.bin"} {
		if err := os.WriteFile(filepath.Join(f.c.OutDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w := f.get(t, "/files/")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body)
	}
	body := w.Body.String()
	old, a, b := strings.Index(body, `href="/files/old"`), strings.Index(body, `href="/files/A.png"`), strings.Index(body, `href="/files/b.bin"`)
	if old < 0 || a < 0 || b < 0 || !(old < a && a < b) {
		t.Errorf("listing order wrong (old=%d A=%d b=%d):\n%s", old, a, b, body)
	}
	if strings.Contains(body, "up</a>") {
		t.Errorf("root listing has an up link")
	}

	w = f.get(t, "/files/old")
	if !strings.Contains(w.Body.String(), `href="/files/old/photo_0.bin"`) || !strings.Contains(w.Body.String(), `href="/files/"`) {
		t.Errorf("subdirectory listing:\n%s", w.Body)
	}

	if w := f.get(t, "/files/old/photo_0.bin"); w.Code != http.StatusOK || w.Body.String() != "x" {
		t.Errorf("file download = %d %q", w.Code, w.Body)
	}
	if w := f.get(t, "/files/nope"); w.Code != http.StatusNotFound {
		t.Errorf("missing file code = %d", w.Code)
	}
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		rel  string
		want string
		ok   bool
	}{
		{"a.jpg", filepath.Join(base, "a.jpg"), true},
		{"2024/06/a.jpg", filepath.Join(base, "2024", "06", "a.jpg"), true},
		{"", base, true},
		{"x/../a.jpg", filepath.Join(base, "a.jpg"), true},
		{"../a.jpg", "", false},
		{"../../etc/passwd", "", false},
		{"x/../../a.jpg", "", false},
	}
	for _, tc := range tests {
		got, err := safeJoin(base, tc.rel)
		if (err == nil) != tc.ok {
			t.Errorf("safeJoin(%q) err = %v, want ok=%v", tc.rel, err, tc.ok)
			continue
		}
		if got != tc.want {
			t.Errorf("safeJoin(%q) = %q, want %q", tc.rel, got, tc.want)
		}
	}
}

func TestSim(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get(t, "/sim?img=/images/a.png")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body)
	}
	for _, want := range []string{"a.png", "2024-06-01", "taken 2024:06:01 00:00:00", "/api/reroll", "Leuven"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("simulator page lacks %q", want)
		}
	}

	w = f.get(t, "/sim?date=2024-06-03")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "2024-06-01") {
		t.Errorf("picked simulator page = %d, missing the day used", w.Code)
	}

	w = f.get(t, "/sim?date=1999-01-01")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), ".png") {
		t.Errorf("empty simulator page = %d, should show no photo", w.Code)
	}

	for _, u := range []string{"/sim?img=/images/../../etc/passwd", "/sim?img=/etc/passwd", "/sim?date=June"} {
		if w := f.get(t, u); w.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", u, w.Code)
		}
	}
}

func TestPickIncludesRecord(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.pick(t, "/api/pick?date=2024-06-01")
	if !resp.Found {
		t.Fatalf("pick = %+v", resp)
	}
	if resp.Photo.ExifSummary != "taken 2024:06:01 00:00:00" || resp.Photo.ExifJSON == "" {
		t.Errorf("exif = %q / %q", resp.Photo.ExifSummary, resp.Photo.ExifJSON)
	}
	if resp.Photo.Date != "2024-06-01" {
		t.Errorf("date = %q", resp.Photo.Date)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	f := newFixture(t, nil)
	before := f.s.idx.Load().Len()

	done := make(chan struct{})
	errc := make(chan error, 1)
	go func() { errc <- f.s.Watch(done) }()
	defer func() {
		close(done)
		if err := <-errc; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	taken, err := inktime.ParseDay("2025-02-01")
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(10 * time.Second)
	// the watcher starts asynchronously, so keep writing until it notices
	for i := 0; f.s.idx.Load().Len() == before; i++ {
		if time.Now().After(deadline) {
			t.Fatalf("index still has %d photos after catalog writes", before)
		}
		p := &inktime.Photo{Path: filepath.Join(f.c.ImageDir, fmt.Sprintf("w%d.jpg", i)), Taken: taken}
		if err := f.cat.Put(p); err != nil {
			t.Fatalf("Put: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if got := f.s.idx.Load().Len(); got <= before {
		t.Errorf("Len = %d, want more than %d", got, before)
	}
}
