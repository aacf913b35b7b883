package cmd

import (
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/caedis/launcher-updater/internal/downloader"
)

type progressSource interface {
	Progress() downloader.Progress
}

var (
	activeMu   sync.Mutex
	activeStop func()
)

// stopActiveProgress finishes the bar of the running command, if any.
func stopActiveProgress() {
	activeMu.Lock()
	stop := activeStop
	activeMu.Unlock()
	if stop != nil {
		stop()
	}
}

// trackProgress polls src and renders a byte progress bar on stderr while
// there is something to download. The returned func stops polling.
func trackProgress(src progressSource) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		var (
			bar   *progressbar.ProgressBar
			total int64
		)
		render := func() {
			p := src.Progress()
			if p.Total <= 0 {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions64(p.Total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("Downloading"),
					progressbar.OptionShowBytes(true),
					progressbar.OptionThrottle(100*time.Millisecond),
					progressbar.OptionClearOnFinish(),
				)
				total = p.Total
			} else if p.Total != total {
				bar.ChangeMax64(p.Total)
				total = p.Total
			}
			_ = bar.Set64(p.Transferred)
		}

		for {
			select {
			case <-done:
				render()
				if bar != nil {
					_ = bar.Finish()
				}
				return
			case <-ticker.C:
				render()
			}
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
	activeMu.Lock()
	activeStop = stop
	activeMu.Unlock()
	return stop
}
