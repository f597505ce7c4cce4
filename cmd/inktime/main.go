package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/tstromberg/inktime/pkg/inktime"
	"github.com/tstromberg/inktime/pkg/serve"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	d := inktime.DefaultConfig()
	var (
		dbPath    = flag.String("db", envOrDefault("INKTIME_DB", d.DBPath), "Location of the photo catalog database")
		imageDir  = flag.String("images", os.Getenv("INKTIME_IMAGE_DIR"), "Location of the photo directory")
		outDir    = flag.String("out", envOrDefault("INKTIME_OUT_DIR", d.OutDir), "Location of output directory for panel frames")
		key       = flag.String("key", os.Getenv("INKTIME_DOWNLOAD_KEY"), "secret path segment for panel downloads")
		addr      = flag.String("addr", envOrDefault("INKTIME_ADDR", "0.0.0.0:8765"), "host:port to bind to in listen mode")
		webUI     = flag.Bool("webui", envBool("INKTIME_WEBUI", d.EnableWebUI), "serve the catalog review pages")
		quantity  = flag.Int("quantity", envInt("INKTIME_DAILY_QUANTITY", d.DailyQuantity), "number of frames to publish per day")
		threshold = flag.Float64("threshold", envFloat("INKTIME_THRESHOLD", d.Threshold), "memory score a photo must exceed to be preferred")
		lookback  = flag.Int("lookback", envInt("INKTIME_LOOKBACK", d.MaxLookback), "days to search backwards for a photo")
		palette   = flag.String("palette", envOrDefault("INKTIME_PALETTE", d.Palette.String()), "comma-separated hex colors the panel can show")
		date      = flag.String("date", "", "render for this YYYY-MM-DD instead of today")
		render    = flag.Bool("render", false, "publish today's frames to --out")
		listen    = flag.Bool("listen", false, "serve content via HTTP")
		watchFlag = flag.Bool("watch", false, "reload the catalog when it changes (listen mode)")
	)

	klog.InitFlags(nil)
	flag.Parse()

	pal, err := inktime.ParsePalette(*palette)
	if err != nil {
		klog.Exitf("palette: %v", err)
	}

	c := &inktime.Config{
		DBPath:        *dbPath,
		ImageDir:      *imageDir,
		OutDir:        *outDir,
		DownloadKey:   *key,
		Threshold:     *threshold,
		MaxLookback:   *lookback,
		DailyQuantity: *quantity,
		Palette:       pal,
		Width:         d.Width,
		Height:        d.Height,
		EnableWebUI:   *webUI,
	}
	if err := c.Validate(); err != nil {
		klog.Exitf("config: %v", err)
	}

	if !*render && !*listen {
		klog.Exitf("nothing to do: pass --render and/or --listen")
	}

	if *listen && c.DownloadKey == "" {
		klog.Exitf("--key (or INKTIME_DOWNLOAD_KEY) is required in listen mode")
	}

	cat, err := inktime.OpenCatalog(c.DBPath)
	if err != nil {
		klog.Exitf("catalog: %v", err)
	}
	defer cat.Close()

	if *render {
		day := time.Now()
		if *date != "" {
			day, err = inktime.ParseDay(*date)
			if err != nil {
				klog.Exitf("--date: %v", err)
			}
		}

		pb, err := inktime.NewPublisher(c, cat, nil)
		if err != nil {
			klog.Exitf("publisher: %v", err)
		}
		if _, err := pb.Publish(day); err != nil {
			klog.Exitf("publish failed: %v", err)
		}
	}

	if !*listen {
		return
	}

	s, err := serve.New(c, cat, nil)
	if err != nil {
		klog.Exitf("server: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	if *watchFlag {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Watch(done); err != nil {
				klog.Errorf("watch: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: *addr, Handler: s.Handler()}
	go func() {
		klog.Infof("Listening on %s...", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Exitf("listen failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	klog.Infof("shutting down ...")
	close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		klog.Errorf("shutdown: %v", err)
	}
	wg.Wait()
}
