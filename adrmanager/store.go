package adrmanager

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// writeFile serializes adr as front-matter + markdown body and writes it
// atomically (write-then-rename) to <adr_dir>/<NNN-slug.md>.
func writeFile(dir string, a ADR) error {
	fm := frontMatter{
		ID: a.ID, Number: a.Number, Title: a.Title, Status: a.Status,
		Date: a.Date, Tags: a.Tags, Supersedes: a.Supersedes,
	}
	yamlBytes, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(yamlBytes)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(a.Body())

	path := filepath.Join(dir, a.Filename())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// removeFile deletes an ADR file from dir; a file that is already gone is
// not an error. Create uses it to roll back the file it just wrote when
// indexing the ADR into the KnowledgeBase fails.
func removeFile(dir string, filename string) error {
	err := os.Remove(filepath.Join(dir, filename))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// parseFile reads one ADR record back from its markdown file.
func parseFile(path string) (ADR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ADR{}, err
	}
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim) {
		return ADR{}, fmt.Errorf("adrmanager: %s missing front-matter", path)
	}
	rest := text[len(frontMatterDelim):]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return ADR{}, fmt.Errorf("adrmanager: %s malformed front-matter", path)
	}
	yamlPart := rest[:end]
	body := strings.TrimPrefix(rest[end+len("\n"+frontMatterDelim):], "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlPart), &fm); err != nil {
		return ADR{}, fmt.Errorf("adrmanager: %s: %w", path, err)
	}

	a := ADR{
		ID: fm.ID, Number: fm.Number, Title: fm.Title, Status: fm.Status,
		Date: fm.Date, Tags: fm.Tags, Supersedes: fm.Supersedes,
		Slug: slugFromFilename(filepath.Base(path)),
	}
	a.Context, a.Decision, a.Consequences = splitSections(body)
	return a, nil
}

func slugFromFilename(name string) string {
	name = strings.TrimSuffix(name, ".md")
	parts := strings.SplitN(name, "-", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return name
}

// splitSections pulls Context/Decision/Consequences back out of the
// markdown body rendered by ADR.Body.
func splitSections(body string) (context, decision, consequences string) {
	sections := map[string]*string{
		"## Context":      &context,
		"## Decision":     &decision,
		"## Consequences": &consequences,
	}
	lines := strings.Split(body, "\n")
	var current *string
	var buf []string
	flush := func() {
		if current != nil {
			*current = strings.TrimSpace(strings.Join(buf, "\n"))
		}
		buf = nil
	}
	for _, line := range lines {
		if target, ok := sections[strings.TrimSpace(line)]; ok {
			flush()
			current = target
			continue
		}
		if current != nil {
			buf = append(buf, line)
		}
	}
	flush()
	return
}

// listFiles returns every .md file in dir, sorted by name (so numeric
// prefixes sort numerically as long as they share digit width).
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}
