package inference

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath anchors relative paths at root.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) || root == "" {
		return p
	}
	return filepath.Join(root, p)
}

// LoadPrompts returns one prompt per view. Without a prompt file text is
// repeated for every view. With one, its first views non-blank lines are
// used and fewer lines than views is an error.
func LoadPrompts(text, textPath, root string, views int) ([]string, error) {
	if views <= 0 {
		views = DefaultViews
	}
	if strings.TrimSpace(textPath) == "" {
		prompts := make([]string, views)
		for i := range prompts {
			prompts[i] = text
		}
		return prompts, nil
	}

	path := ResolvePath(root, textPath)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open text_path: %w", err)
	}
	defer f.Close()

	var prompts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read text_path: %w", err)
	}
	if len(prompts) < views {
		return nil, fmt.Errorf("text_path %s has %d prompts, need at least %d", textPath, len(prompts), views)
	}
	return prompts[:views], nil
}
