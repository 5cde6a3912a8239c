package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/factgate/factgate/internal/model"
)

// maxLineLength flags lines that are painful to review or diff
const maxLineLength = 1000

// structureStage checks document shape: non-empty content, line
// lengths, trailing whitespace. Tier 1, cheap and deterministic.
type structureStage struct{}

func (structureStage) ID() string { return StageStructure }

func (structureStage) Run(_ context.Context, sc *StageContext) *model.StageResult {
	start := time.Now()
	var issues []model.ValidationIssue

	if strings.TrimSpace(sc.Doc.Content) == "" {
		issues = append(issues, model.ValidationIssue{
			Level:    model.LevelCritical,
			Category: model.CategoryStructure,
			Message:  "document is empty",
			Source:   StageStructure,
		})
	} else {
		lines := strings.Split(sc.Doc.Content, "\n")
		for i, line := range lines {
			if len(line) > maxLineLength {
				issues = append(issues, model.ValidationIssue{
					Level:      model.LevelWarning,
					Category:   model.CategoryStructure,
					Message:    fmt.Sprintf("line exceeds %d characters (%d)", maxLineLength, len(line)),
					LineNumber: i + 1,
					Source:     StageStructure,
				})
			}
			if trimmed := strings.TrimRight(line, " \t"); trimmed != line {
				issues = append(issues, model.ValidationIssue{
					Level:       model.LevelInfo,
					Category:    model.CategoryStructure,
					Message:     "trailing whitespace",
					LineNumber:  i + 1,
					AutoFixable: true,
					Source:      StageStructure,
				})
			}
		}
		if !strings.HasSuffix(sc.Doc.Content, "\n") {
			issues = append(issues, model.ValidationIssue{
				Level:       model.LevelInfo,
				Category:    model.CategoryStructure,
				Message:     "missing trailing newline",
				AutoFixable: true,
				Source:      StageStructure,
			})
		}
	}

	return &model.StageResult{
		StageID:  StageStructure,
		Tier:     1,
		Outcome:  model.StageSucceeded,
		Issues:   issues,
		Duration: time.Since(start),
	}
}

// encodingStage checks byte-level hygiene: UTF-8 validity, BOM,
// stray control characters, CRLF line endings.
type encodingStage struct{}

func (encodingStage) ID() string { return StageEncoding }

func (encodingStage) Run(_ context.Context, sc *StageContext) *model.StageResult {
	start := time.Now()
	content := sc.Doc.Content
	var issues []model.ValidationIssue

	if !utf8.ValidString(content) {
		issues = append(issues, model.ValidationIssue{
			Level:    model.LevelError,
			Category: model.CategoryEncoding,
			Message:  "content is not valid UTF-8",
			Source:   StageEncoding,
		})
	}
	if strings.HasPrefix(content, "\uFEFF") {
		issues = append(issues, model.ValidationIssue{
			Level:       model.LevelWarning,
			Category:    model.CategoryEncoding,
			Message:     "byte order mark at start of document",
			LineNumber:  1,
			AutoFixable: true,
			Source:      StageEncoding,
		})
	}
	if strings.Contains(content, "\r\n") {
		issues = append(issues, model.ValidationIssue{
			Level:       model.LevelInfo,
			Category:    model.CategoryEncoding,
			Message:     "CRLF line endings",
			AutoFixable: true,
			Source:      StageEncoding,
		})
	}

	line := 1
	for _, r := range content {
		if r == '\n' {
			line++
			continue
		}
		if r < 0x20 && r != '\t' && r != '\r' {
			issues = append(issues, model.ValidationIssue{
				Level:      model.LevelWarning,
				Category:   model.CategoryEncoding,
				Message:    fmt.Sprintf("control character U+%04X", r),
				LineNumber: line,
				Source:     StageEncoding,
			})
		}
	}

	return &model.StageResult{
		StageID:  StageEncoding,
		Tier:     1,
		Outcome:  model.StageSucceeded,
		Issues:   issues,
		Duration: time.Since(start),
	}
}

// metadataStage checks the submission metadata: a usable name and a
// known family. Tier 2.
type metadataStage struct{}

func (metadataStage) ID() string { return StageMetadata }

func (metadataStage) Run(_ context.Context, sc *StageContext) *model.StageResult {
	start := time.Now()
	var issues []model.ValidationIssue

	if sc.Doc.Name == "" {
		issues = append(issues, model.ValidationIssue{
			Level:    model.LevelInfo,
			Category: model.CategoryMetadata,
			Message:  "document has no name",
			Source:   StageMetadata,
		})
	}

	switch sc.Doc.Family {
	case model.FamilyCore, model.FamilyDesktop, model.FamilyMobile, model.FamilyEnterprise:
	case "":
		issues = append(issues, model.ValidationIssue{
			Level:    model.LevelError,
			Category: model.CategoryMetadata,
			Message:  "document declares no fact family",
			Source:   StageMetadata,
		})
	default:
		issues = append(issues, model.ValidationIssue{
			Level:    model.LevelWarning,
			Category: model.CategoryMetadata,
			Message:  fmt.Sprintf("unknown fact family %q", sc.Doc.Family),
			Source:   StageMetadata,
		})
	}

	return &model.StageResult{
		StageID:  StageMetadata,
		Tier:     2,
		Outcome:  model.StageSucceeded,
		Issues:   issues,
		Duration: time.Since(start),
	}
}

var markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)

// linksStage checks inline markdown links for empty or malformed
// targets. Tier 2; it never fetches anything.
type linksStage struct{}

func (linksStage) ID() string { return StageLinks }

func (linksStage) Run(_ context.Context, sc *StageContext) *model.StageResult {
	start := time.Now()
	var issues []model.ValidationIssue

	for i, line := range strings.Split(sc.Doc.Content, "\n") {
		for _, m := range markdownLinkRe.FindAllStringSubmatch(line, -1) {
			text, target := m[1], strings.TrimSpace(m[2])
			switch {
			case target == "":
				issues = append(issues, model.ValidationIssue{
					Level:      model.LevelError,
					Category:   model.CategoryLinks,
					Message:    fmt.Sprintf("link %q has an empty target", text),
					LineNumber: i + 1,
					Source:     StageLinks,
				})
			case strings.ContainsAny(target, " \t"):
				issues = append(issues, model.ValidationIssue{
					Level:      model.LevelWarning,
					Category:   model.CategoryLinks,
					Message:    fmt.Sprintf("link target %q contains whitespace", target),
					LineNumber: i + 1,
					Source:     StageLinks,
				})
			case strings.HasPrefix(target, "http://"):
				issues = append(issues, model.ValidationIssue{
					Level:      model.LevelInfo,
					Category:   model.CategoryLinks,
					Message:    fmt.Sprintf("link target %q uses http", target),
					LineNumber: i + 1,
					Source:     StageLinks,
				})
			}
		}
	}

	return &model.StageResult{
		StageID:  StageLinks,
		Tier:     2,
		Outcome:  model.StageSucceeded,
		Issues:   issues,
		Duration: time.Since(start),
	}
}
