package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"

	"github.com/gentoomaniac/image-backup/pkg/blockdev"
)

// ErrAborted is returned when the user leaves a prompt without choosing.
var ErrAborted = errors.New("no destination selected")

// PathStart is the text the directory prompt starts with.
const PathStart = "/media/"

const otherDirectory = "Other directory..."

// Candidate is a mounted filesystem offered as a backup destination.
type Candidate struct {
	MountPoint string
	Device     string
	FSType     string
	Size       string
}

// Candidates lists the mounted partitions of every device except source, sorted by mount point.
func Candidates(devices []blockdev.Device, source string) []Candidate {
	var candidates []Candidate
	for _, dev := range devices {
		if dev.Name == source {
			continue
		}
		for _, part := range dev.Partitions() {
			if part.MountPoint == "" || part.MountPoint == "[SWAP]" {
				continue
			}
			candidates = append(candidates, Candidate{
				MountPoint: part.MountPoint,
				Device:     part.Path,
				FSType:     part.FSType,
				Size:       humanize.Bytes(uint64(part.Size)),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return strings.Compare(candidates[i].MountPoint, candidates[j].MountPoint) < 0
	})
	return candidates
}

// PromptDestination lets the user pick one of candidates or type any directory.
// Typed paths must pass check before they are accepted.
func PromptDestination(candidates []Candidate, check func(string) error) (string, error) {
	if len(candidates) == 0 {
		return PromptPath(PathStart, check)
	}

	items := make([]Candidate, 0, len(candidates)+1)
	items = append(items, candidates...)
	items = append(items, Candidate{MountPoint: otherDirectory})

	searcher := func(input string, idx int) bool {
		c := items[idx]
		return strings.Contains(strings.ToLower(c.MountPoint), strings.ToLower(input))
	}

	selector := promptui.Select{
		Label:        "Select backup destination",
		Items:        items,
		Searcher:     searcher,
		HideSelected: true,
		Size:         min(len(items), 10),
		Templates: &promptui.SelectTemplates{
			Active:   fmt.Sprintf("%s {{ .MountPoint | cyan }}", promptui.IconSelect),
			Inactive: "  {{ .MountPoint }}",
			Details: `{{ if .Device }}
{{ "Details:" | bold }}
	{{ "Device:" | bold }}	{{ .Device | cyan }}
	{{ "Filesystem:" | bold }}	{{ .FSType | cyan }}
	{{ "Size:" | bold }}	{{ .Size | cyan }}
{{ end }}`,
			Selected: "{{ .MountPoint }}",
		},
	}
	selector.Stdout = os.Stderr

	index, _, err := selector.Run()
	if err != nil {
		return "", abortOr(err)
	}
	if index == len(candidates) {
		return PromptPath(PathStart, check)
	}
	return candidates[index].MountPoint, nil
}

// PromptPath asks for a directory, starting from start.
func PromptPath(start string, check func(string) error) (string, error) {
	prompt := promptui.Prompt{
		Label:     "Backup directory",
		Default:   start,
		AllowEdit: true,
		Validate:  pathValidator(check),
	}
	prompt.Stdout = os.Stderr

	path, err := prompt.Run()
	if err != nil {
		return "", abortOr(err)
	}
	return filepath.Clean(strings.TrimSpace(path)), nil
}

func pathValidator(check func(string) error) promptui.ValidateFunc {
	return func(input string) error {
		path := strings.TrimSpace(input)
		if path == "" {
			return errors.New("enter a directory")
		}
		if !filepath.IsAbs(path) {
			return errors.New("enter an absolute path")
		}
		if check == nil {
			return nil
		}
		return check(filepath.Clean(path))
	}
}

// ConfirmStart asks before anything is written.
func ConfirmStart(source, destination string) error {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Back up %s to %s", source, destination),
		IsConfirm: true,
	}
	prompt.Stdout = os.Stderr

	if _, err := prompt.Run(); err != nil {
		return abortOr(err)
	}
	return nil
}

func abortOr(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
		return ErrAborted
	}
	return err
}
