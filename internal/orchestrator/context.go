package orchestrator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joescharf/panel/internal/models"
)

// Review modes.
const (
	ModeFull         = "full"
	ModeArchitecture = "architecture"
)

// Per-file and per-review caps on loaded source. Oversized files are
// skipped, not truncated, so reviewers never see half a function.
const (
	maxFileBytes  = 128 * 1024
	maxTotalBytes = 4 * 1024 * 1024
)

// sourceExtensions is the allowlist of file types loaded in full mode.
var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".rs": true,
	".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".html": true, ".css": true,
	".java": true, ".rb": true, ".php": true, ".cs": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".sql": true, ".sh": true,
	".yaml": true, ".yml": true, ".toml": true,
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "target": true, "__pycache__": true,
	".panel": true,
}

// structureDocNames are loaded into StructureDocs rather than Files.
var structureDocNames = []string{"README.md", "ARCHITECTURE.md", "DESIGN.md"}

// BuildContext loads the review material for a task. In architecture
// mode only the structure docs are loaded; in full mode the source tree
// is walked under the caps above. This is the only step whose failure
// aborts a review.
func BuildContext(taskID, path, mode string) (*models.ReviewContext, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("review target: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("review target is not a directory: %s", path)
	}

	rc := &models.ReviewContext{
		TaskID:  taskID,
		WorkDir: path,
	}

	rc.StructureDocs = loadStructureDocs(path)
	if data, err := os.ReadFile(filepath.Join(path, "REQUIREMENTS.md")); err == nil {
		rc.Requirements = string(data)
	}

	if mode == ModeArchitecture {
		if rc.StructureDocs == "" {
			return nil, fmt.Errorf("architecture review of %s: no structure docs found", path)
		}
		// No files loaded, so this is the declared-type parse.
		rc.ProjectType = Classify(rc)
		return rc, nil
	}

	if err := loadFiles(rc, path); err != nil {
		return nil, err
	}
	if len(rc.Files) == 0 && rc.StructureDocs == "" {
		return nil, fmt.Errorf("nothing to review under %s", path)
	}
	rc.ProjectType = Classify(rc)
	return rc, nil
}

func loadStructureDocs(path string) string {
	var b strings.Builder
	appendDoc := func(p string) {
		data, err := os.ReadFile(p)
		if err != nil {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", filepath.Base(p), data)
	}

	for _, name := range structureDocNames {
		appendDoc(filepath.Join(path, name))
	}
	if docs, err := os.ReadDir(filepath.Join(path, "docs")); err == nil {
		for _, e := range docs {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				appendDoc(filepath.Join(path, "docs", e.Name()))
			}
		}
	}
	return b.String()
}

func loadFiles(rc *models.ReviewContext, root string) error {
	total := 0
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || (d.Name() != "." && strings.HasPrefix(d.Name(), ".") && p != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(d.Name())] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileBytes {
			return nil
		}
		if total+int(info.Size()) > maxTotalBytes {
			return fs.SkipAll
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		total += len(data)
		rc.Files = append(rc.Files, models.SourceFile{Path: rel, Content: string(data)})
		return nil
	})
}

var declaredTypeRe = regexp.MustCompile(`(?mi)^(?:project\s+)?type:\s*([a-z-]+)`)

// extensionLang maps extensions to the project types the specialist
// selection understands.
var extensionLang = map[string]string{
	".go": "go", ".py": "python", ".rs": "rust",
	".js": "web", ".jsx": "web", ".ts": "web", ".tsx": "web",
	".html": "web", ".css": "web",
}

// Classify determines the project type from the loaded files' extension
// histogram. Without files it falls back to a declared "Type:" line in
// the structure docs.
func Classify(rc *models.ReviewContext) string {
	counts := map[string]int{}
	for _, f := range rc.Files {
		if lang, ok := extensionLang[filepath.Ext(f.Path)]; ok {
			counts[lang]++
		}
	}
	if len(counts) > 0 {
		langs := make([]string, 0, len(counts))
		for l := range counts {
			langs = append(langs, l)
		}
		// Deterministic winner on ties.
		sort.Slice(langs, func(i, j int) bool {
			if counts[langs[i]] != counts[langs[j]] {
				return counts[langs[i]] > counts[langs[j]]
			}
			return langs[i] < langs[j]
		})
		return langs[0]
	}

	if m := declaredTypeRe.FindStringSubmatch(rc.StructureDocs); m != nil {
		return strings.ToLower(m[1])
	}
	return "unknown"
}
