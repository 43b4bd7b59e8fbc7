package assistant

import "github.com/BTreeMap/TrialConsent/internal/models"

// TrialInfo is the participant information text for the trial. It is shown on
// the trial page and given to the remote resolver as grounding.
const TrialInfo = `You are invited to participate in a Phase II clinical trial studying an innovative treatment for diabetes.

Drug Information:
- Investigational Drug: "Glucora" (a new GLP-1 receptor agonist)
- How it works: Helps regulate blood sugar by increasing insulin release and reducing glucose production in the liver
- Form: Subcutaneous injection, once weekly
- Status: Approved for testing in earlier Phase I trials with promising safety results

Trial Details:
- Purpose: To evaluate the safety, tolerability, and effectiveness of Glucora compared to a placebo
- Duration: 12-18 months, including regular visits, blood tests, and health monitoring
- Voluntary: You may withdraw at any point without affecting your medical care
- Confidential: All your medical records and personal details will remain private
- Risks: Possible side effects may include tiredness, mild fever, nausea, or injection site discomfort (serious effects are rare but monitored)
- Benefits: This treatment may improve blood sugar control and contribute to advancing diabetes care, though personal benefit is not guaranteed
- Contact: The research team is available anytime to answer your questions
  - email: trials@gmail.com
  - phone: 9542757209
  - address: Hyderabad, India

All trial activities follow strict safety protocols, and doctors will closely monitor your health throughout participation.`

// ApologyMessage replaces any reply that could not be resolved.
const ApologyMessage = "Sorry, I had trouble responding. Please contact the study support team."

// TrialQuickQuestions are offered as one-tap prompts in the trial context.
var TrialQuickQuestions = []string{
	"Give me a summary",
	"What are the risks?",
	"How do I withdraw?",
	"Explain consent",
}

var greetings = map[models.ChatContext]string{
	models.ChatContextTrial: "Hello! I can explain the trial details and answer your questions. Ask me about risks, benefits, confidentiality, or how to proceed.",
	models.ChatContextForm:  "Hello! I'm here to help you understand the consent form and clinical trial details. What would you like to know?",
}

var fallbacks = map[models.ChatContext]string{
	models.ChatContextTrial: "I can tell you about this trial's risks, benefits, duration, confidentiality and study drug, or how to withdraw or contact the research team. What would you like to know?",
	models.ChatContextForm:  "I can explain any field or section of the consent form, or fill fields for you, for example \"set my first name to Ann\". Which part would you like help with?",
}

// rule is one entry of the trial answer list.
type rule struct {
	name  string
	terms []string
	reply string
}

// trialRules are evaluated in order; the first rule with a matching term wins.
var trialRules = []rule{
	{
		name:  "withdraw",
		terms: []string{"withdraw", "quit", "leave the study", "stop participating", "drop out", "change my mind"},
		reply: "Participation is voluntary. You may withdraw at any point without affecting your medical care; just let the research team know.",
	},
	{
		name:  "risks",
		terms: []string{"risk", "side effect", "safe", "danger", "harm"},
		reply: "Possible side effects may include tiredness, mild fever, nausea, or injection site discomfort. Serious effects are rare but monitored, and doctors will closely monitor your health throughout participation.",
	},
	{
		name:  "benefits",
		terms: []string{"benefit", "advantage", "gain", "help me"},
		reply: "This treatment may improve blood sugar control and contribute to advancing diabetes care, though personal benefit is not guaranteed.",
	},
	{
		name:  "confidentiality",
		terms: []string{"confidential", "privacy", "private", "personal data", "my data", "secure"},
		reply: "All your medical records and personal details will remain private. Only authorized research staff can access your data, and only for study purposes.",
	},
	{
		name:  "duration",
		terms: []string{"how long", "duration", "months", "visits", "time commitment"},
		reply: "The trial lasts 12 to 18 months, including regular visits, blood tests, and health monitoring.",
	},
	{
		name:  "contact",
		terms: []string{"contact", "email", "phone", "call", "reach", "question for the team"},
		reply: "The research team is available anytime to answer your questions. Email trials@gmail.com, call 9542757209, or visit the team in Hyderabad, India.",
	},
	{
		name:  "drug",
		terms: []string{"glucora", "drug", "medicine", "how does it work", "how it works", "injection", "placebo", "glp-1"},
		reply: "Glucora is a new GLP-1 receptor agonist given as a once-weekly injection under the skin. It helps regulate blood sugar by increasing insulin release and reducing glucose production in the liver, and it is compared against a placebo in this trial.",
	},
	{
		name:  "consent",
		terms: []string{"consent", "agree", "sign"},
		reply: "Giving consent means you have read and understood the trial information and agree to take part voluntarily. You can ask questions before signing and withdraw at any time.",
	},
	{
		name:  "summary",
		terms: []string{"summary", "summarize", "summarise", "overview", "about", "explain", "tell me", "what is this"},
		reply: "This Phase II trial tests Glucora, a once-weekly injection for diabetes, against a placebo over 12 to 18 months. Participation is voluntary and confidential. Possible side effects include tiredness, mild fever, nausea, or injection site discomfort.",
	},
}

// formQuickResponses answer common questions about the form itself. A key
// matches when it is a substring of the normalized message.
var formQuickResponses = []struct {
	phrase string
	reply  string
}{
	{"what information do i need", "You'll need: personal contact information, medical history including current medications and allergies, emergency contact details, and to review consent agreements."},
	{"how long does this take", "The consent form typically takes 15-20 minutes to complete thoroughly. Take your time to read each section carefully."},
	{"is my information secure", "Yes, all your information is encrypted and stored securely. Only authorized research staff will have access to your data for study purposes."},
	{"can i save and continue later", "Yes, your progress is saved as you complete each section. You can return to finish the form later."},
	{"what if i have questions", "You can ask me about any section or field, contact the research team directly, or speak with a study coordinator before signing."},
	{"can i change my mind", "Yes, participation is voluntary. You can withdraw from the study at any time without affecting your medical care."},
}
