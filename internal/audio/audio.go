// Package audio is the audio acquisition layer: for a remote video it
// downloads a best-audio stream via kkdai/youtube,
// for a local one it reads the file directly, then both paths
// transcode through ffmpeg into 16kHz mono signed-16-bit PCM under a
// flock-guarded scratch directory.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	ytdl "github.com/kkdai/youtube/v2"
	"golang.org/x/sync/semaphore"

	"voicecore/internal/ingesterr"
	"voicecore/internal/model"
)

// Config controls acquisition and the optional silence-trim
// preprocessing pass.
type Config struct {
	ScratchDir        string
	MaxConcurrent     int64
	TrimSilence       bool
	SilenceThresholdDB float64 // peak dBFS below which a leading/trailing span is silence
	MinTrimSeconds    float64
}

// DefaultConfig returns the acquisition defaults: a conservative
// trimming threshold and a modest download concurrency cap.
func DefaultConfig(scratchDir string) Config {
	return Config{
		ScratchDir:         scratchDir,
		MaxConcurrent:      8,
		TrimSilence:        false,
		SilenceThresholdDB: -50.0,
		MinTrimSeconds:     0.1,
	}
}

// Per-operation deadlines: a stuck download or transcode gives its
// slot back instead of wedging the batch.
const (
	downloadTimeout  = 10 * time.Minute
	transcodeTimeout = 5 * time.Minute
)

// Acquirer produces normalized PCM audio for a video descriptor.
type Acquirer struct {
	cfg Config
	yt  ytdl.Client
	sem *semaphore.Weighted
}

// New returns an Acquirer rooted at cfg.ScratchDir, creating it if
// necessary.
func New(cfg Config) (*Acquirer, error) {
	if cfg.ScratchDir == "" {
		return nil, fmt.Errorf("audio: scratch dir is required")
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: failed to create scratch dir: %w", err)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Acquirer{
		cfg: cfg,
		yt:  ytdl.Client{},
		sem: semaphore.NewWeighted(cfg.MaxConcurrent),
	}, nil
}

// Acquire downloads (or reads) and transcodes one video's audio.
// Concurrency beyond cfg.MaxConcurrent suspends on the acquirer's
// semaphore until a slot frees up. Temporary files are removed on
// every exit path; only the final PCM artifact survives.
func (a *Acquirer) Acquire(ctx context.Context, video model.VideoDescriptor) (*model.AudioArtifact, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, ingesterr.ErrCancelled
	}
	defer a.sem.Release(1)

	taskDir, lock, err := a.lockScratchDir(video.VideoID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Unlock()
		os.RemoveAll(taskDir)
	}()

	dlCtx, cancelDL := context.WithTimeout(ctx, downloadTimeout)
	rawPath, err := a.fetchRaw(dlCtx, video, taskDir)
	cancelDL()
	if err != nil {
		return nil, err
	}

	tcCtx, cancelTC := context.WithTimeout(ctx, transcodeTimeout)
	defer cancelTC()

	pcmPath := filepath.Join(taskDir, video.VideoID+"_pcm.wav")
	if err := transcodeToPCM(tcCtx, rawPath, pcmPath); err != nil {
		return nil, ingesterr.NewAcquisitionError(ingesterr.KindDecodeFailed, err)
	}

	if a.cfg.TrimSilence {
		trimmed := filepath.Join(taskDir, video.VideoID+"_trimmed.wav")
		if err := trimSilence(tcCtx, pcmPath, trimmed, a.cfg.SilenceThresholdDB, a.cfg.MinTrimSeconds); err == nil {
			pcmPath = trimmed
		}
		// A failed trim keeps the untrimmed PCM; trimming is best-effort.
	}

	duration, err := probeDuration(tcCtx, pcmPath)
	if err != nil {
		return nil, ingesterr.NewAcquisitionError(ingesterr.KindDecodeFailed, err)
	}

	finalPath := filepath.Join(a.cfg.ScratchDir, video.VideoID+".wav")
	if err := copyFile(pcmPath, finalPath); err != nil {
		return nil, ingesterr.NewAcquisitionError(ingesterr.KindDecodeFailed, err)
	}

	return &model.AudioArtifact{
		Path:            finalPath,
		SampleRate:      16000,
		Channels:        1,
		DurationSeconds: duration,
	}, nil
}

// lockScratchDir creates and locks a per-task subdirectory so two
// tasks never race over the same video's temporary files.
func (a *Acquirer) lockScratchDir(videoID string) (string, *flock.Flock, error) {
	taskDir := filepath.Join(a.cfg.ScratchDir, ".tmp-"+videoID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("audio: failed to create task scratch dir: %w", err)
	}

	lock := flock.New(filepath.Join(taskDir, ".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return "", nil, fmt.Errorf("audio: failed to acquire scratch lock: %w", err)
	}
	if !ok {
		return "", nil, ingesterr.NewAcquisitionError(ingesterr.KindNetwork, fmt.Errorf("scratch dir %s is already locked", taskDir))
	}
	return taskDir, lock, nil
}

func (a *Acquirer) fetchRaw(ctx context.Context, video model.VideoDescriptor, taskDir string) (string, error) {
	if video.SourceType == model.SourceLocal {
		if _, err := os.Stat(video.URLOrPath); err != nil {
			return "", ingesterr.NewAcquisitionError(ingesterr.KindNotFound, err)
		}
		return video.URLOrPath, nil
	}
	return a.downloadRemote(ctx, video, taskDir)
}

// downloadRemote selects the best-bitrate audio-only stream and
// downloads it, translating youtube library errors into the closed
// AcquisitionError kinds.
func (a *Acquirer) downloadRemote(ctx context.Context, video model.VideoDescriptor, taskDir string) (string, error) {
	ytVideo, err := a.yt.GetVideoContext(ctx, video.URLOrPath)
	if err != nil {
		return "", classifyYoutubeError(err)
	}

	var formats []ytdl.Format
	for _, f := range ytVideo.Formats {
		if strings.HasPrefix(f.MimeType, "audio/") {
			formats = append(formats, f)
		}
	}
	if len(formats) == 0 {
		return "", ingesterr.NewAcquisitionError(ingesterr.KindDecodeFailed, fmt.Errorf("no audio-only formats available"))
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i].Bitrate > formats[j].Bitrate })
	best := formats[0]

	stream, _, err := a.yt.GetStreamContext(ctx, ytVideo, &best)
	if err != nil {
		return "", classifyYoutubeError(err)
	}
	defer stream.Close()

	ext := ".m4a"
	if strings.Contains(best.MimeType, "webm") {
		ext = ".webm"
	}
	rawPath := filepath.Join(taskDir, video.VideoID+"_raw"+ext)

	f, err := os.Create(rawPath)
	if err != nil {
		return "", fmt.Errorf("audio: failed to create raw download file: %w", err)
	}
	defer f.Close()

	if _, err := copyWithContext(ctx, f, stream); err != nil {
		return "", classifyYoutubeError(err)
	}
	return rawPath, nil
}

// classifyYoutubeError maps the youtube client's error strings onto
// the closed AcquisitionErrorKind set.
func classifyYoutubeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return ingesterr.ErrCancelled
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "members") || strings.Contains(msg, "join this channel"):
		return ingesterr.NewAcquisitionError(ingesterr.KindMembersOnly, err)
	case strings.Contains(msg, "private") || strings.Contains(msg, "video unavailable") || strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return ingesterr.NewAcquisitionError(ingesterr.KindNotFound, err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return ingesterr.NewAcquisitionError(ingesterr.KindNetwork, err)
	default:
		return ingesterr.NewAcquisitionError(ingesterr.KindNetwork, err)
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}

// transcodeToPCM runs ffmpeg to produce 16kHz mono signed-16-bit PCM.
func transcodeToPCM(ctx context.Context, inputPath, outputPath string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: please install ffmpeg to transcode audio")
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-sample_fmt", "s16",
		"-f", "wav",
		"-y",
		outputPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w\noutput: %s", err, string(out))
	}
	return nil
}

// trimSilence clips leading/trailing spans below thresholdDB for at
// least minSeconds, using ffmpeg's silenceremove filter.
func trimSilence(ctx context.Context, inputPath, outputPath string, thresholdDB, minSeconds float64) error {
	filter := fmt.Sprintf(
		"silenceremove=start_periods=1:start_duration=%f:start_threshold=%fdB:"+
			"stop_periods=1:stop_duration=%f:stop_threshold=%fdB",
		minSeconds, thresholdDB, minSeconds, thresholdDB,
	)
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-af", filter,
		"-y",
		outputPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg silence trim failed: %w\noutput: %s", err, string(out))
	}
	return nil
}

// probeDuration returns a WAV file's duration via ffprobe.
func probeDuration(ctx context.Context, path string) (float64, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("ffprobe not found: please install ffmpeg")
	}
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to probe duration: %w", err)
	}
	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &duration); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return duration, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
