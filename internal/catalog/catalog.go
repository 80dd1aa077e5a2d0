// Package catalog holds the prompt texts used to generate interview questions.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hiremind/interview/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the question prompt catalog.
type Catalog struct {
	DefaultType    string                       `yaml:"default_type"`
	Intro          string                       `yaml:"intro"`
	InterviewTypes map[string]InterviewType     `yaml:"interview_types"`
	Courses        map[string]map[string]string `yaml:"courses"`
	Difficulties   map[string]string            `yaml:"difficulties"`
	CareerStages   map[string]string            `yaml:"career_stages"`
	Guidelines     string                       `yaml:"guidelines"`
	FollowUp       string                       `yaml:"follow_up"`
}

// InterviewType is the interviewer persona for one kind of interview.
type InterviewType struct {
	Label   string `yaml:"label"`
	Context string `yaml:"context"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path. An empty path returns the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if strings.TrimSpace(c.Intro) == "" {
		return fmt.Errorf("intro is required")
	}
	if len(c.InterviewTypes) == 0 {
		return fmt.Errorf("at least one interview type is required")
	}
	if _, ok := c.InterviewTypes[c.DefaultType]; !ok {
		return fmt.Errorf("default_type %q is not a defined interview type", c.DefaultType)
	}
	for name, t := range c.InterviewTypes {
		if strings.TrimSpace(t.Context) == "" {
			return fmt.Errorf("interview type %q has no context", name)
		}
	}
	if _, ok := c.Difficulties[string(domain.DifficultyIntermediate)]; !ok {
		return fmt.Errorf("difficulty %q is required", domain.DifficultyIntermediate)
	}
	return nil
}

// Type returns the interview type for name, falling back to the default type.
func (c *Catalog) Type(name string) InterviewType {
	if t, ok := c.InterviewTypes[name]; ok {
		return t
	}
	return c.InterviewTypes[c.DefaultType]
}

// IntroPrompt is the instruction for the opening question.
func (c *Catalog) IntroPrompt(interviewType string) string {
	label := ""
	if t, ok := c.InterviewTypes[interviewType]; ok && t.Label != "" {
		label = t.Label + " "
	}
	return strings.TrimSpace(strings.ReplaceAll(c.Intro, "{{type}} ", label))
}

// SplitCourse splits a "<course>-<subject>" topic. ok is false for plain topics.
func SplitCourse(topic string) (course, subject string, ok bool) {
	course, subject, ok = strings.Cut(topic, "-")
	if !ok || course == "" || subject == "" {
		return "", "", false
	}
	return course, subject, true
}

// CourseDescription returns the topics covered by a course subject.
func (c *Catalog) CourseDescription(course, subject string) string {
	if d, ok := c.Courses[course][subject]; ok {
		return d
	}
	return fmt.Sprintf("%s %s development", course, subject)
}

// Difficulty returns the difficulty instruction, defaulting to intermediate.
func (c *Catalog) Difficulty(d domain.Difficulty) string {
	if s, ok := c.Difficulties[string(d)]; ok {
		return s
	}
	return c.Difficulties[string(domain.DifficultyIntermediate)]
}

// CareerStage returns the personalization text for a career stage, or "".
func (c *Catalog) CareerStage(stage string) string {
	return c.CareerStages[stage]
}
