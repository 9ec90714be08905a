package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"znum/internal/downloader"
	"znum/pkg/assembler"
	"znum/pkg/auth"
	"znum/pkg/checkpoint"
	"znum/pkg/config"
	errs "znum/pkg/errors"
	"znum/pkg/logger"
	"znum/pkg/ratelimit"
	"znum/pkg/reader"
	"znum/pkg/render"
	"znum/pkg/session"
	"znum/pkg/storage"
	"znum/pkg/ui"
)

var (
	outputDir    string
	requestDelay time.Duration
	keepImages   bool
	allowPartial bool
	username     string
	password     string
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download a document as PDF",
	Long: `Download every page of a reader document and bind the pages into
<work_dir>/<document id>.pdf.

A login is performed only when the saved session is missing or rejected.
Credentials come from --username/--password, the credential store
('znum auth login') or ZNUM_USERNAME/ZNUM_PASSWORD.`,
	Example: `  # Download with stored credentials
  znum download "https://znanium.ru/catalog/document?id=123456"

  # Slow down and keep the page images
  znum download "https://znanium.ru/read?id=123456" --delay 3s --keep-images`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&outputDir, "output", "o", "", "work directory for page images and the PDF")
	downloadCmd.Flags().DurationVar(&requestDelay, "delay", 0, "delay between page requests (default from config, 1s)")
	downloadCmd.Flags().BoolVar(&keepImages, "keep-images", false, "keep page images after the PDF is written")
	downloadCmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "assemble the pages fetched so far when a run stops early")
	downloadCmd.Flags().StringVarP(&username, "username", "u", "", "reader username")
	downloadCmd.Flags().StringVarP(&password, "password", "p", "", "reader password")
}

func runDownload(cmd *cobra.Command, args []string) error {
	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if cmd.Flags().Changed("delay") {
		flags["delay"] = requestDelay
	}
	if cmd.Flags().Changed("keep-images") {
		flags["keep-images"] = keepImages
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := &downloadJob{
		cfg:          cfg,
		documentURL:  args[0],
		allowPartial: allowPartial,
		credentials: func() (*auth.Account, error) {
			return resolveAccount(username, password)
		},
		term: console,
		log:  logger.GetLogger(),
	}

	pdf, err := job.run(ctx)
	if pdf != "" {
		console.Info("PDF", pdf)
	}
	return err
}

// downloadJob is one invocation of the download pipeline:
// session → login if needed → document info → pages → PDF.
type downloadJob struct {
	cfg          *config.Config
	documentURL  string
	allowPartial bool
	credentials  func() (*auth.Account, error)
	term         *ui.Terminal
	log          logger.Logger
}

func (j *downloadJob) run(ctx context.Context) (string, error) {
	sess, err := session.New(j.cfg.Reader.BaseURL, j.cfg.CookiePath())
	if err != nil {
		return "", err
	}
	if _, err := sess.Load(); err != nil {
		j.log.WithError(err).Warn("Ignoring unreadable session file")
	}

	client := reader.NewClient(j.cfg, sess, j.log)

	loggedIn := false
	login := func() error {
		account, err := j.credentials()
		if err != nil {
			return err
		}
		j.term.Info("Logging in as", account.Username)
		if err := client.Login(ctx, account.Username, account.Password); err != nil {
			return err
		}
		loggedIn = true
		return sess.Save()
	}

	if !sess.IsAuthenticated() {
		if err := login(); err != nil {
			return "", err
		}
	}

	handle, key, err := client.FetchDocumentInfo(ctx, j.documentURL)
	if err != nil && errs.IsKind(err, errs.KindProtocolMismatch) && !loggedIn {
		// a stale session shows the document page without the reader markup
		j.log.WithError(err).Info("Document info missing, logging in again")
		if err := sess.Invalidate(); err != nil {
			return "", err
		}
		if err := login(); err != nil {
			return "", err
		}
		handle, key, err = client.FetchDocumentInfo(ctx, j.documentURL)
	}
	if err != nil {
		return "", err
	}
	j.term.Info("Document", fmt.Sprintf("%s (%d pages)", handle.DocumentID, handle.PageCount))

	store, err := storage.NewManager(j.cfg.Download.WorkDir)
	if err != nil {
		return "", err
	}

	checkpoints, err := checkpoint.NewManager(j.cfg.Download.WorkDir, handle.DocumentID, j.log)
	if err != nil {
		return "", err
	}
	if prev, err := checkpoints.Load(); err != nil {
		j.log.WithError(err).Warn("Ignoring unreadable checkpoint")
	} else if prev != nil {
		j.term.Warning(fmt.Sprintf("Previous run stopped at page %d (%s) with %d/%d pages; resuming",
			prev.StoppedAt, prev.Reason, prev.Completed, prev.PageCount))
	}

	progress := ui.NewPageProgress(j.term, handle.DocumentID, handle.PageCount)
	d, err := downloader.New(downloader.Dependencies{
		Transport:        client,
		Session:          sess,
		Store:            store,
		Reconstructor:    render.New(j.cfg.Render),
		Limiter:          ratelimit.NewFixedDelay(j.cfg.Download.RequestDelay),
		Progress:         progress.Observe,
		Logger:           j.log,
		BaseURL:          j.cfg.Reader.BaseURL,
		AuthMarkers:      j.cfg.Download.AuthMarkers,
		RateLimitMarkers: j.cfg.Download.RateLimitMarkers,
	})
	if err != nil {
		return "", err
	}

	result, runErr := d.Run(ctx, handle, key)
	progress.Finish(runErr, result.StoppedAt)

	if sess.IsAuthenticated() {
		if err := sess.Save(); err != nil {
			j.log.WithError(err).Warn("Failed to save session")
		}
	}

	if runErr != nil {
		if _, err := checkpoints.RecordStop(handle.DocumentID, handle.PageCount,
			len(result.Artifacts), result.StoppedAt, stopReason(runErr), runErr); err != nil {
			j.log.WithError(err).Warn("Failed to save checkpoint")
		}
		runErr = explain(runErr, len(result.Artifacts))
		if !j.allowPartial || len(result.Artifacts) == 0 {
			return "", runErr
		}
	}

	pdf := filepath.Join(j.cfg.Download.WorkDir, handle.DocumentID+".pdf")
	if err := assembler.AssembleWithLogger(result.Artifacts, pdf, j.log); err != nil {
		return "", errors.Join(runErr, err)
	}

	if runErr == nil {
		if err := checkpoints.Delete(); err != nil {
			j.log.WithError(err).Warn("Failed to remove checkpoint")
		}
	}
	if runErr == nil && !j.cfg.Download.KeepImages {
		if err := store.RemoveDocument(handle.DocumentID); err != nil {
			j.log.WithError(err).Warn("Failed to remove page images")
		}
	}
	return pdf, runErr
}

func stopReason(err error) string {
	if kind := errs.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}

// explain adds the recovery hint for a stopped run
func explain(err error, saved int) error {
	switch errs.KindOf(err) {
	case errs.KindAuthenticationExpired:
		return fmt.Errorf("%w; the session was cleared, run again to log in (%d pages kept)", err, saved)
	case errs.KindRateLimited:
		return fmt.Errorf("%w; wait and run again to resume (%d pages kept)", err, saved)
	case "":
		return err
	default:
		return fmt.Errorf("%w (%d pages kept)", err, saved)
	}
}
