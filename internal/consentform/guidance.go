package consentform

import "strings"

// Guidance is the help entry the assistant gives for a field.
type Guidance struct {
	Text     string
	Example  string
	Synonyms []string // lower-case phrases users say instead of the key
}

// Reply renders the guidance as a chat answer.
func (g Guidance) Reply() string {
	if g.Example == "" {
		return g.Text
	}
	return g.Text + " " + g.Example
}

// Terms returns every lower-case phrase that refers to the field.
func (s *Schema) Terms(key FieldKey) []string {
	var terms []string
	// short keys such as "age" or "other" are ordinary words; only their synonyms count
	if len(key) >= 6 {
		terms = append(terms, strings.ToLower(string(key)))
	}
	if f, ok := s.Field(key); ok && len(f.Label) <= 32 {
		terms = append(terms, strings.ToLower(f.Label))
	}
	if g, ok := s.guidance[key]; ok {
		terms = append(terms, g.Synonyms...)
	}
	return terms
}

var defaultGuidance = map[FieldKey]Guidance{
	FirstName: {
		Text:     "Enter your legal first name as it appears on your government-issued ID. This should match your medical records and insurance information.",
		Example:  "Example: John, Mary, Michael",
		Synonyms: []string{"first name", "given name", "forename"},
	},
	LastName: {
		Text:     "Enter your legal last name (surname/family name) as it appears on your government-issued ID.",
		Example:  "Example: Smith, Johnson, Williams",
		Synonyms: []string{"last name", "surname", "family name"},
	},
	DateOfBirth: {
		Text:     "Enter your date of birth. This helps verify your identity and determine study eligibility.",
		Example:  "Example: 1985-01-15",
		Synonyms: []string{"date of birth", "dob", "birthday", "birth date"},
	},
	Age: {
		Text:     "Enter your current age in years. This helps determine study eligibility and appropriate care protocols.",
		Example:  "Example: 25, 45, 67",
		Synonyms: []string{"age", "how old"},
	},
	Sex: {
		Text:     "Select your biological sex. This information is needed for medical safety and study requirements.",
		Example:  "Options: Male, Female, Other",
		Synonyms: []string{"sex", "gender"},
	},
	PhoneNumber: {
		Text:     "Enter your primary phone number including area code. This will be used for appointment scheduling and urgent communications.",
		Example:  "Example: (555) 123-4567",
		Synonyms: []string{"phone number", "my phone", "mobile", "telephone"},
	},
	Email: {
		Text:     "Provide a valid email address where you can receive study updates, appointment reminders, and important communications.",
		Example:  "Example: john.smith@email.com",
		Synonyms: []string{"email", "e-mail"},
	},
	Address: {
		Text:     "Provide your complete current address including street, city, state, and ZIP code for study correspondence.",
		Example:  "Example: 123 Main St, Anytown, ST 12345",
		Synonyms: []string{"address", "where i live"},
	},

	EmergencyContactName: {
		Text:     "Provide the full name of someone who can be contacted in case of emergency during the study. This should be a family member or close friend.",
		Example:  "Example: Jane Smith (spouse), Robert Johnson (brother)",
		Synonyms: []string{"emergency contact name", "emergency name"},
	},
	EmergencyContactPhone: {
		Text:     "Enter the phone number of your emergency contact. Make sure this person is aware they are listed as your emergency contact.",
		Example:  "Example: (555) 987-6543",
		Synonyms: []string{"emergency contact phone", "emergency phone", "emergency number"},
	},
	EmergencyContactRelationship: {
		Text:     "Specify your relationship to the emergency contact person.",
		Example:  "Example: Spouse, Parent, Sibling, Friend",
		Synonyms: []string{"relationship", "related to"},
	},

	HealthConditions: {
		Text:     "List any current or past significant medical conditions, chronic illnesses, or ongoing health issues. Include conditions like diabetes, heart disease, mental health conditions, etc. If none, write 'None' or 'No significant medical conditions'.",
		Example:  "Example: Type 2 diabetes, hypertension, anxiety disorder",
		Synonyms: []string{"health condition", "medical condition", "illness", "conditions"},
	},
	Allergies: {
		Text:     "List all known allergies including medications, foods, environmental allergens, or materials. Include the type of reaction if known. If no allergies, write 'None' or 'No known allergies'.",
		Example:  "Example: Penicillin (rash), peanuts (anaphylaxis), seasonal pollen",
		Synonyms: []string{"allergy", "allergies", "allergic"},
	},
	CurrentMedications: {
		Text:     "List all medications you currently take including prescription drugs, over-the-counter medications, vitamins, and supplements. Include dosages if known. If none, write 'None'.",
		Example:  "Example: Metformin 500mg twice daily, Vitamin D 1000IU daily",
		Synonyms: []string{"current medication", "medication", "medicine", "prescription", "meds"},
	},
	LastTetanusShot: {
		Text:     "Enter the date of your last tetanus vaccination. This is important for safety during medical procedures.",
		Example:  "Example: 2020-03-15",
		Synonyms: []string{"tetanus", "vaccination", "vaccine"},
	},

	PhysicianName: {
		Text:     "Enter the name of your primary care physician or family doctor.",
		Example:  "Example: Dr. Sarah Johnson, Dr. Michael Chen",
		Synonyms: []string{"physician name", "physician", "family doctor", "gp"},
	},
	PhysicianPhone: {
		Text:     "Enter your primary physician's office phone number.",
		Example:  "Example: (555) 123-4567",
		Synonyms: []string{"physician phone", "doctor's phone", "doctor phone"},
	},
	DentistName: {
		Text:     "Enter the name of your dentist if you have one.",
		Example:  "Example: Dr. Robert Smith, Dr. Lisa Brown",
		Synonyms: []string{"dentist name", "dentist"},
	},
	DentistPhone: {
		Text:     "Enter your dentist's office phone number.",
		Example:  "Example: (555) 987-6543",
		Synonyms: []string{"dentist phone", "dentist's phone"},
	},
	PreferredHospital: {
		Text:     "Enter your preferred hospital for emergency care or procedures.",
		Example:  "Example: City General Hospital, St. Mary's Medical Center",
		Synonyms: []string{"preferred hospital"},
	},
	InsuranceProvider: {
		Text:     "Enter the name of your health insurance company.",
		Example:  "Example: Blue Cross Blue Shield, Aetna, Kaiser Permanente",
		Synonyms: []string{"insurance provider", "insurance company", "insurer"},
	},
	PolicyNumber: {
		Text:     "Enter your insurance policy or member ID number.",
		Example:  "Example: ABC123456789",
		Synonyms: []string{"policy number", "member id"},
	},
	PolicyHolder: {
		Text:     "Enter the name of the person who holds the insurance policy (may be yourself or a family member).",
		Example:  "Example: John Smith, Mary Johnson",
		Synonyms: []string{"policy holder", "policyholder"},
	},

	EmergencyMedicalCare: {
		Text:     "Check this box to authorize emergency medical care if needed during the study. This allows medical staff to provide immediate care.",
		Synonyms: []string{"emergency medical care", "first aid"},
	},
	Surgery: {
		Text:     "Check this box to authorize surgical procedures if medically necessary during the study.",
		Synonyms: []string{"surgery", "surgical"},
	},
	BloodTransfusions: {
		Text:     "Check this box to authorize blood transfusions if medically necessary during the study.",
		Synonyms: []string{"blood transfusion", "transfusion"},
	},
	DentalTreatment: {
		Text:     "Check this box to authorize emergency dental treatment if needed during the study.",
		Synonyms: []string{"dental treatment", "dental"},
	},
	OtherAuthorization: {
		Text:     "Check this box if you want to authorize other specific medical procedures. Please specify in the text field below.",
		Synonyms: []string{"other authorization", "other procedure"},
	},
	OtherSpecify: {
		Text:     "If you checked 'Other' above, please specify what other medical procedures you authorize.",
		Example:  "Example: Physical therapy, diagnostic imaging",
		Synonyms: []string{"specify other", "please specify"},
	},

	HasReceivedInfo: {
		Text:     "Check this box to confirm you have received and read all study information materials. It is required before you can preview your submission.",
		Synonyms: []string{"received info", "received the information", "received information"},
	},
	ConsentConsent1: {
		Text:     "Check this box to give your informed consent to participate in this clinical trial. It is required before you can preview your submission.",
		Synonyms: []string{"consent to participate", "informed consent"},
	},
	ConsentConsent2: {
		Text:     "Check this box to confirm you understand that participation is voluntary.",
		Synonyms: []string{"voluntary"},
	},
	ConsentConsent3: {
		Text:     "Check this box to confirm you understand the risks and benefits of the study.",
		Synonyms: []string{"risks and benefits"},
	},
	ConsentConsent4: {
		Text:     "Check this box to confirm you understand your right to withdraw from the study at any time.",
		Synonyms: []string{"right to withdraw"},
	},
	ConsentConsent5: {
		Text:     "Check this box to give consent for data collection and use for research purposes.",
		Synonyms: []string{"data collection", "research purposes"},
	},
	ConsentConsent6: {
		Text:     "Check this box to confirm you have received a copy of this consent form.",
		Synonyms: []string{"copy of this consent", "copy of the form"},
	},
	Signature: {
		Text:     "Enter your full legal name as your digital signature to complete the consent process.",
		Example:  "Example: John Michael Smith",
		Synonyms: []string{"signature", "sign my name"},
	},
	ConsentDate: {
		Text:     "This is set to today's date when you start the form. Change it only if instructed by the study team.",
		Synonyms: []string{"consent date", "today's date"},
	},
	IsUCLAPatient: {
		Text:     "Select whether you are currently a UCLA patient. This helps determine your care coordination.",
		Example:  "Options: Yes or No",
		Synonyms: []string{"ucla"},
	},
	Hospital: {
		Text:     "Select the hospital where you will participate in this study.",
		Example:  "Options: UCLH, Guy's, Imperial, King's, Barts",
		Synonyms: []string{"hospital location", "study site", "which hospital"},
	},
}
