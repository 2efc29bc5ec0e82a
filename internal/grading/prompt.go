// Package grading builds the grading prompt and extracts score, confidence and feedback
// from the model's reply. Both sides share the label constants below.
package grading

import (
	"fmt"
	"strings"
)

// Reply labels. The prompt mandates them and the parser looks for them.
const (
	LabelScore       = "คะแนน"
	LabelConfidence  = "ความมั่นใจในการตรวจ"
	LabelCommentary  = "ความคิดเห็น"
	LabelSuggestions = "ข้อเสนอแนะ"
)

const (
	contextOpen  = "<<<เฉลย"
	contextClose = "เฉลย>>>"
	answerOpen   = "<<<คำตอบนักเรียน"
	answerClose  = "คำตอบนักเรียน>>>"
)

// Prompt is a system instruction plus the user message carrying the material to grade.
type Prompt struct {
	System string
	User   string
}

// String renders the prompt as one instruction block.
func (p Prompt) String() string {
	return p.System + "\n\n" + p.User
}

// BuildPrompt returns the grading prompt for one answer. It has no side effects and the
// same inputs always give the same prompt.
func BuildPrompt(keyContext, studentAnswer string, maxScore int) Prompt {
	var sys strings.Builder

	sys.WriteString("คุณเป็นผู้ช่วยตรวจข้อสอบอัตนัยที่มีความเชี่ยวชาญ ")
	sys.WriteString("ตรวจคำตอบของนักเรียนโดยเปรียบเทียบกับเฉลยที่ให้มาเท่านั้น ")
	fmt.Fprintf(&sys, "ให้คะแนนเป็นตัวเลขในช่วง 0 ถึง %d (คะแนนเต็ม %d)\n\n", maxScore, maxScore)
	sys.WriteString("พิจารณา:\n")
	sys.WriteString("1. ความถูกต้องของเนื้อหาเทียบกับเฉลย\n")
	sys.WriteString("2. ความครบถ้วนของประเด็นสำคัญ\n")
	sys.WriteString("3. ความชัดเจนของภาษาและการเรียบเรียง\n")
	sys.WriteString("4. การให้เหตุผลและการอธิบาย\n\n")
	sys.WriteString("ตอบในรูปแบบนี้เท่านั้น แต่ละหัวข้ออยู่บรรทัดของตัวเอง:\n")
	fmt.Fprintf(&sys, "%s: [ตัวเลข 0-%d]\n", LabelScore, maxScore)
	fmt.Fprintf(&sys, "%s: [ตัวเลข 0-100]\n", LabelConfidence)
	fmt.Fprintf(&sys, "%s: [คำอธิบายการให้คะแนน จุดเด่น จุดด้อย]\n", LabelCommentary)
	fmt.Fprintf(&sys, "%s: [คำแนะนำสำหรับการปรับปรุง]", LabelSuggestions)

	var user strings.Builder

	user.WriteString(contextOpen + "\n")
	user.WriteString(keyContext)
	user.WriteString("\n" + contextClose + "\n\n")
	user.WriteString(answerOpen + "\n")
	user.WriteString(studentAnswer)
	user.WriteString("\n" + answerClose)

	return Prompt{System: sys.String(), User: user.String()}
}
