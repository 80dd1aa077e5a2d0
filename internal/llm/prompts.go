package llm

import (
	"fmt"
	"strings"
)

// TurnDetectionPrompt asks whether the candidate has finished answering.
// Arguments: question, transcript.
const TurnDetectionPrompt = `You are an expert at detecting when someone has finished speaking in a conversation.

Context: This is an interview. The user is answering a question: "%s"

Current transcript of what the user has said so far:
"%s"

Analyze this transcript and determine:
1. Has the user completed their thought/answer?
2. Are they still in the middle of formulating their response?
3. Are filler words like "um", "uh", "and", "because", "so" at the end indicating they want to continue?

Respond in JSON format:
{
  "isComplete": boolean (true if user is done, false if still speaking),
  "confidence": number (0.0 to 1.0 confidence score),
  "reasoning": "brief explanation of your decision"
}

Consider:
- Complete sentences with proper endings indicate completion
- Trailing filler words ("um", "uh", "and", "because") indicate continuation
- Incomplete thoughts or hanging sentences indicate continuation
- Well-formed, conclusive statements indicate completion`

// AnalysisPrompt scores a full interview transcript.
// Arguments: interview type, transcript, interview type.
const AnalysisPrompt = `You are an expert technical interview evaluator with 10+ years of experience. Analyze this %s interview transcript and provide a comprehensive, actionable performance assessment.

Interview Transcript:
%s

Provide detailed analysis following these guidelines:

**Scoring (0-100 scale):**
- Use granular scoring - differentiate clearly between good and excellent performance
- Base scores on depth of technical knowledge, clarity of communication, and problem-solving approach
- Be realistic but encouraging

**Strengths:**
- Identify 4-5 specific strengths demonstrated in the interview
- Reference actual responses where possible
- Focus on both technical skills and soft skills

**Improvements:**
- Provide 4-5 specific, actionable improvement areas
- Make recommendations concrete (e.g., "Study time complexity analysis" not "Improve algorithms")
- Prioritize improvements by impact

**Detailed Feedback:**
- Write 3-4 comprehensive paragraphs (200-300 words total)
- Include specific examples from their answers
- Compare performance to industry standards for %s interviews
- Provide a clear learning path forward
- Be encouraging while being honest about areas needing work
- End with a motivational but realistic assessment of readiness

Return ONLY this JSON format (no markdown formatting):
{
  "overall_score": <number 0-100>,
  "communication_score": <number 0-100>,
  "technical_score": <number 0-100>,
  "problem_solving_score": <number 0-100>,
  "confidence_score": <number 0-100>,
  "strengths": ["specific strength 1", "specific strength 2", "specific strength 3", "specific strength 4"],
  "improvements": ["actionable improvement 1", "actionable improvement 2", "actionable improvement 3", "actionable improvement 4"],
  "detailed_feedback": "<3-4 paragraph comprehensive feedback with specific examples and industry context>"
}

Be professional, constructive, and specific. Focus on providing value that helps the candidate improve.`

// ProbableAnswersPrompt asks for a model answer per question.
// Arguments: numbered questions.
const ProbableAnswersPrompt = `You are an expert in providing model answers for interview questions. For each question below, provide a concise, professional probable answer that demonstrates strong technical knowledge and communication skills.

Questions:
%s

Provide your response as a JSON array with this format:
[
  {
    "questionNumber": 1,
    "probableAnswer": "A comprehensive answer that demonstrates expertise..."
  }
]

Be specific, professional, and demonstrate best practices in the field.`

// BuildTurnDetectionPrompt fills TurnDetectionPrompt.
func BuildTurnDetectionPrompt(transcript, question string) string {
	if strings.TrimSpace(question) == "" {
		question = "a question"
	}
	return fmt.Sprintf(TurnDetectionPrompt, question, transcript)
}

// BuildAnalysisPrompt fills AnalysisPrompt with a Q/A transcript.
func BuildAnalysisPrompt(interviewType string, answers []QA) string {
	if interviewType == "" {
		interviewType = "general"
	}
	return fmt.Sprintf(AnalysisPrompt, interviewType, FormatTranscript(answers), interviewType)
}

// BuildProbableAnswersPrompt fills ProbableAnswersPrompt.
func BuildProbableAnswersPrompt(questions []QA) string {
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		lines = append(lines, fmt.Sprintf("Q%d: %s", q.Number, q.Question))
	}
	return fmt.Sprintf(ProbableAnswersPrompt, strings.Join(lines, "\n\n"))
}

// FormatTranscript renders answers as "Qn: ...\nAn: ..." blocks.
func FormatTranscript(answers []QA) string {
	blocks := make([]string, 0, len(answers))
	for _, a := range answers {
		blocks = append(blocks, fmt.Sprintf("Q%d: %s\nA%d: %s", a.Number, a.Question, a.Number, a.Answer))
	}
	return strings.Join(blocks, "\n\n")
}
