package questions

import (
	"fmt"
	"strings"

	"github.com/hiremind/interview/internal/catalog"
	"github.com/hiremind/interview/internal/domain"
)

// BuildPrompt assembles the generation prompt for one question.
func (s *Service) BuildPrompt(req domain.QuestionRequest, profile *domain.Profile) string {
	var b strings.Builder

	if req.Number <= 1 {
		b.WriteString(s.catalog.IntroPrompt(req.Topic))
		fmt.Fprintf(&b, "\n\nThis is question number %d.\n\n", max(req.Number, 1))
		b.WriteString("Generate a warm, professional opening that introduces yourself and asks the candidate to introduce themselves. Keep it natural and conversational.")
		b.WriteString("\n\nGenerate ONE engaging interview question that fits these criteria. Return ONLY the question, nothing else.")
		return b.String()
	}

	if req.Scenario != nil && req.Scenario.Description != "" {
		b.WriteString(scenarioContext(req.Scenario))
	} else {
		b.WriteString(strings.TrimSpace(s.catalog.Type(req.Topic).Context))
		if course, subject, ok := catalog.SplitCourse(req.Topic); ok {
			b.WriteString(courseContext(course, subject, s.catalog.CourseDescription(course, subject)))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(s.catalog.Difficulty(req.Difficulty))
	b.WriteString(s.personalization(profile))

	fmt.Fprintf(&b, "\n\nThis is question number %d of %d.\n", req.Number, req.Total)

	if len(req.History) > 0 {
		b.WriteString("\n\nPREVIOUS CONVERSATION:\n")
		for i, t := range req.History {
			fmt.Fprintf(&b, "\nQ%d: %s\nA%d: %s\n", i+1, t.Question, i+1, historyAnswer(t))
		}
		b.WriteString("\nBased on their previous answers, you can ask follow-up questions or explore new areas. Make the conversation flow naturally like a real interview.")
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(s.catalog.FollowUp))
	}

	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(s.catalog.Guidelines))
	b.WriteString("\n\nGenerate ONE engaging interview question that fits these criteria. Return ONLY the question, nothing else.")
	return b.String()
}

func historyAnswer(t domain.Turn) string {
	if t.Skipped || strings.TrimSpace(t.Answer) == "" {
		return domain.SkippedAnswer
	}
	return t.Answer
}

func scenarioContext(sc *domain.Scenario) string {
	var b strings.Builder
	b.WriteString("You are conducting a highly personalized custom interview scenario.\n\n")
	fmt.Fprintf(&b, "SCENARIO DESCRIPTION: %s\n\n", sc.Description)
	ctx := sc.Context
	if ctx == "" {
		ctx = "Standard interview setting"
	}
	fmt.Fprintf(&b, "INTERVIEW CONTEXT: %s\n\n", ctx)
	b.WriteString("CANDIDATE'S GOALS TO DEMONSTRATE:\n")
	b.WriteString(numbered(sc.Goals))
	b.WriteString("\n\nFOCUS AREAS TO ASSESS:\n")
	b.WriteString(numbered(sc.FocusAreas))
	b.WriteString(`

YOUR JOB AS INTERVIEWER:
1. Ask questions that directly evaluate the focus areas listed above
2. Create realistic scenarios aligned with the candidate's goals
3. Vary question types: situational, behavioral, technical (if relevant), problem-solving
4. Build naturally on previous responses
5. Keep questions aligned with the scenario description throughout

This is a REAL interview tailored to their specific needs. Make it count.`)
	return b.String()
}

func courseContext(course, subject, topics string) string {
	return fmt.Sprintf(`

COURSE FOCUS: %[1]s - %[2]s
This is a specialized %[3]s interview focusing on %[4]s.

TECHNICAL TOPICS TO COVER:
%[5]s

YOUR QUESTIONS MUST:
1. Be directly related to %[4]s %[3]s development
2. Cover practical, real-world scenarios specific to %[4]s
3. Test understanding of %[4]s concepts, not generic programming
4. Ask about best practices, common challenges, and optimization in %[4]s
5. Reference %[4]s-specific tools, libraries, and patterns

DO NOT ask generic programming questions. Keep it focused on %[4]s %[3]s.`,
		strings.ToUpper(course), strings.ToUpper(subject), course, subject, topics)
}

func (s *Service) personalization(p *domain.Profile) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	if text := s.catalog.CareerStage(p.CareerStage); text != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(text))
	}
	if p.TargetRole != "" {
		fmt.Fprintf(&b, " They are targeting a %s position.", p.TargetRole)
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "\n\nCandidate's skills: %s", strings.Join(p.Skills, ", "))
	}
	return b.String()
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "1. Not specified"
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, it)
	}
	return strings.Join(lines, "\n")
}
