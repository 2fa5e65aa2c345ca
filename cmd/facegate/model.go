package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/enroll"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/pam"
	"github.com/MrCodeEU/facegate/pkg/storage"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage enrolled face models",
}

var modelAddCmd = &cobra.Command{
	Use:   "add [label]",
	Short: "Enroll a new face model from the camera",
	Long: `Capture frames until exactly one face is in view and store it as a new
face model. The command waits until a face is found; press Ctrl+C to give up.

Examples:
  sudo facegate model add
  sudo facegate model add "glasses on"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModelAdd,
}

var modelRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a face model by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelRemove,
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the enrolled face models",
	Args:  cobra.NoArgs,
	RunE:  runModelList,
}

var modelCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the camera against all enrolled face models",
	Long: `Capture frames until one of the enrolled face models matches. Without
--timeout the check runs until a match is found or it is interrupted.`,
	Args: cobra.NoArgs,
	RunE: runModelCheck,
}

var modelClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all face models of the user",
	Args:  cobra.NoArgs,
	RunE:  runModelClear,
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelAddCmd, modelRemoveCmd, modelListCmd, modelCheckCmd, modelClearCmd)

	modelCheckCmd.Flags().Int("timeout", 0, "Give up after this many seconds (0 = no limit)")
	modelClearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

// openStore loads the configuration and the user's template set without
// touching the recognizer.
func openStore() (*config.Config, *storage.FileStore, *storage.TemplateSet, error) {
	user, err := targetUser()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := storage.NewFileStore(cfg.TemplateDir(), cfg.Storage.EncryptionEnabled)
	if err != nil {
		return nil, nil, nil, err
	}
	set, err := store.Load(user)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, set, nil
}

// openRecognizer loads the configuration, the recognizer and the user's
// template set.
func openRecognizer() (*config.Config, pam.Components, *storage.TemplateSet, error) {
	user, err := targetUser()
	if err != nil {
		return nil, pam.Components{}, nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, pam.Components{}, nil, err
	}
	comp, err := pam.BuildComponents(cfg)
	if err != nil {
		return nil, pam.Components{}, nil, err
	}
	set, err := comp.Store.Load(user)
	if err != nil {
		_ = comp.Closer.Close()
		return nil, pam.Components{}, nil, err
	}
	return cfg, comp, set, nil
}

func runModelAdd(cmd *cobra.Command, args []string) error {
	cfg, comp, set, err := openRecognizer()
	if err != nil {
		return err
	}
	defer func() { _ = comp.Closer.Close() }()

	label := defaultLabel(set)
	if len(args) > 0 {
		label = strings.TrimSpace(args[0])
	}
	if label == "" {
		return errors.New("label must not be empty")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Adding face model %q for %s, look straight into the camera\n", label, set.User)

	spinner := newSpinner("Looking for a face")
	ctrl := enroll.NewController(cfg, set, enroll.Dependencies{
		Store:      comp.Store,
		Camera:     comp.Camera,
		Recognizer: comp.Recognizer,
		Progress:   spinner.update,
	})
	tmpl, err := ctrl.Enroll(cmd.Context(), label)
	spinner.finish()
	if err != nil {
		if errors.Is(err, enroll.ErrAmbiguousEnrollment) {
			return fmt.Errorf("%w, make sure you are alone in front of the camera and try again", err)
		}
		return err
	}

	fmt.Fprintf(out, "Added face model %d (%s) for %s\n", tmpl.ID, tmpl.Label, set.User)
	return nil
}

func runModelRemove(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid model id %q", args[0])
	}

	_, store, set, err := openStore()
	if err != nil {
		return err
	}
	if !set.RemoveByID(id) {
		return fmt.Errorf("%w: %d for %s", storage.ErrTemplateNotFound, id, set.User)
	}
	if err := store.Save(set); err != nil {
		return err
	}

	logging.Infof("Removed template %d for %s", id, set.User)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed face model %d\n", id)
	return nil
}

func runModelList(cmd *cobra.Command, args []string) error {
	_, _, set, err := openStore()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if set.IsEmpty() {
		fmt.Fprintf(out, "No face models known for %s\n", set.User)
		return nil
	}

	fmt.Fprintf(out, "Known face models for %s:\n\n", set.User)
	return writeTemplates(out, set.List())
}

func runModelCheck(cmd *cobra.Command, args []string) error {
	cfg, comp, set, err := openRecognizer()
	if err != nil {
		return err
	}
	defer func() { _ = comp.Closer.Close() }()

	ctx := cmd.Context()
	if seconds := mustGetInt(cmd, "timeout"); seconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
		defer cancel()
	}

	spinner := newSpinner("Looking for a known face")
	ctrl := enroll.NewController(cfg, set, enroll.Dependencies{
		Camera:     comp.Camera,
		Recognizer: comp.Recognizer,
		Progress:   spinner.update,
	})
	m, err := ctrl.Verify(ctx)
	spinner.finish()

	out := cmd.OutOrStdout()
	switch {
	case errors.Is(err, enroll.ErrNoTemplates):
		return fmt.Errorf("no face models known for %s, add one with 'facegate model add'", set.User)
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintln(out, "No match before the timeout")
		return err
	case err != nil:
		return err
	}

	fmt.Fprintf(out, "Identified face as %s in %s\n", set.User, m.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  Model:     %d (%s)\n", m.Template.ID, m.Template.Label)
	fmt.Fprintf(out, "  Distance:  %.4f (certainty %.2f)\n", m.Distance, cfg.Video.Certainty)
	fmt.Fprintf(out, "  Frames:    %d\n", m.Ticks)
	return nil
}

func runModelClear(cmd *cobra.Command, args []string) error {
	_, store, set, err := openStore()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if set.IsEmpty() {
		fmt.Fprintf(out, "No face models known for %s\n", set.User)
		return nil
	}

	if !mustGetBool(cmd, "yes") {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("refusing to clear face models without --yes when not interactive")
		}
		prompt := fmt.Sprintf("Remove all %d face models for %s? [y/N] ", set.Len(), set.User)
		if !confirm(cmd.InOrStdin(), out, prompt) {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	set.Clear()
	if err := store.Save(set); err != nil {
		return err
	}
	logging.Infof("Cleared templates for %s", set.User)
	fmt.Fprintln(out, "All face models removed")
	return nil
}

// defaultLabel names a new template after its position in the set.
func defaultLabel(set *storage.TemplateSet) string {
	if set.IsEmpty() {
		return "Initial model"
	}
	return fmt.Sprintf("Model #%d", set.Len()+1)
}

// writeTemplates prints templates as an aligned table.
func writeTemplates(w io.Writer, templates []storage.Template) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tADDED ON")
	for _, t := range templates {
		added := time.Unix(t.CreatedAt, 0).Format("2006-01-02 15:04:05")
		fmt.Fprintf(tw, "%d\t%s\t%s\n", t.ID, t.Label, added)
	}
	return tw.Flush()
}

// confirm asks prompt and reports whether the answer was yes.
func confirm(r io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprint(w, prompt)
	answer, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// spinner shows capture progress on a terminal. The zero value is silent.
type spinner struct {
	bar    *progressbar.ProgressBar
	frames int
}

func newSpinner(description string) *spinner {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return &spinner{}
	}
	return &spinner{bar: progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)}
}

func (s *spinner) update(faces int) {
	s.frames++
	if s.bar == nil {
		return
	}
	s.bar.Describe(fmt.Sprintf("Frame %d, %d face(s) in view", s.frames, faces))
	_ = s.bar.Add(1)
}

func (s *spinner) finish() {
	if s.bar != nil {
		_ = s.bar.Finish()
	}
}
