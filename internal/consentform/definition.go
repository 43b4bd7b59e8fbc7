package consentform

import "sync"

// FieldKey identifies a form field. The set below is closed: the guidance
// registry is checked against it when the schema is built.
type FieldKey string

const (
	FirstName   FieldKey = "firstName"
	LastName    FieldKey = "lastName"
	DateOfBirth FieldKey = "dateOfBirth"
	Age         FieldKey = "age"
	Sex         FieldKey = "sex"
	PhoneNumber FieldKey = "phoneNumber"
	Email       FieldKey = "email"
	Address     FieldKey = "address"

	EmergencyContactName         FieldKey = "emergencyContactName"
	EmergencyContactPhone        FieldKey = "emergencyContactPhone"
	EmergencyContactRelationship FieldKey = "emergencyContactRelationship"

	HealthConditions   FieldKey = "healthConditions"
	Allergies          FieldKey = "allergies"
	CurrentMedications FieldKey = "currentMedications"
	LastTetanusShot    FieldKey = "lastTetanusShot"

	PhysicianName     FieldKey = "physicianName"
	PhysicianPhone    FieldKey = "physicianPhone"
	DentistName       FieldKey = "dentistName"
	DentistPhone      FieldKey = "dentistPhone"
	PreferredHospital FieldKey = "preferredHospital"
	InsuranceProvider FieldKey = "insuranceProvider"
	PolicyNumber      FieldKey = "policyNumber"
	PolicyHolder      FieldKey = "policyHolder"

	EmergencyMedicalCare FieldKey = "emergencyMedicalCare"
	Surgery              FieldKey = "surgery"
	BloodTransfusions    FieldKey = "bloodTransfusions"
	DentalTreatment      FieldKey = "dentalTreatment"
	OtherAuthorization   FieldKey = "other"
	OtherSpecify         FieldKey = "otherSpecify"

	HasReceivedInfo FieldKey = "hasReceivedInfo"
	ConsentConsent1 FieldKey = "consentConsent1"
	ConsentConsent2 FieldKey = "consentConsent2"
	ConsentConsent3 FieldKey = "consentConsent3"
	ConsentConsent4 FieldKey = "consentConsent4"
	ConsentConsent5 FieldKey = "consentConsent5"
	ConsentConsent6 FieldKey = "consentConsent6"
	Signature       FieldKey = "signature"
	ConsentDate     FieldKey = "consentDate"
	IsUCLAPatient   FieldKey = "isUCLAPatient"
	Hospital        FieldKey = "hospital"
)

// PrimaryConsent is the flag that records consent to participate.
const PrimaryConsent = ConsentConsent1

// HospitalOptions are the study sites a participant can choose.
var HospitalOptions = []string{"uclh", "guys", "imperial", "kings", "barts"}

var defaultFields = []FormField{
	{Key: FirstName, Label: "First Name", Type: TypeShortText, Required: true, Section: 1},
	{Key: LastName, Label: "Last Name", Type: TypeShortText, Required: true, Section: 1},
	{Key: DateOfBirth, Label: "Date of Birth", Type: TypeDate, Required: true, Section: 1},
	{Key: Age, Label: "Age", Type: TypeNumber, Required: true, Section: 1},
	{Key: Sex, Label: "Sex", Type: TypeSingleChoice, Required: true, Section: 1, Options: []string{"Male", "Female", "Other"}},
	{Key: PhoneNumber, Label: "Phone Number", Type: TypeTel, Required: true, Section: 1},
	{Key: Email, Label: "Email Address", Type: TypeEmail, Required: true, Section: 1},
	{Key: Address, Label: "Home Address", Type: TypeLongText, Required: true, Section: 1},

	{Key: EmergencyContactName, Label: "Emergency Contact Name", Type: TypeShortText, Required: true, Section: 2},
	{Key: EmergencyContactPhone, Label: "Emergency Contact Phone", Type: TypeTel, Required: true, Section: 2},
	{Key: EmergencyContactRelationship, Label: "Relationship to You", Type: TypeShortText, Required: true, Section: 2},

	{Key: HealthConditions, Label: "Current Health Conditions", Type: TypeLongText, Section: 3},
	{Key: Allergies, Label: "Allergies", Type: TypeLongText, Section: 3},
	{Key: CurrentMedications, Label: "Current Medications", Type: TypeLongText, Section: 3},
	{Key: LastTetanusShot, Label: "Last Tetanus Shot", Type: TypeDate, Section: 3},

	{Key: PhysicianName, Label: "Primary Physician Name", Type: TypeShortText, Section: 4},
	{Key: PhysicianPhone, Label: "Physician Phone", Type: TypeTel, Section: 4},
	{Key: DentistName, Label: "Dentist Name", Type: TypeShortText, Section: 4},
	{Key: DentistPhone, Label: "Dentist Phone", Type: TypeTel, Section: 4},
	{Key: PreferredHospital, Label: "Preferred Hospital", Type: TypeShortText, Section: 4},
	{Key: InsuranceProvider, Label: "Insurance Provider", Type: TypeShortText, Section: 4},
	{Key: PolicyNumber, Label: "Policy Number", Type: TypeShortText, Section: 4},
	{Key: PolicyHolder, Label: "Policy Holder", Type: TypeShortText, Section: 4},

	{Key: EmergencyMedicalCare, Label: "Emergency medical care and first aid", Type: TypeBoolean, Section: 5},
	{Key: Surgery, Label: "Surgery if deemed necessary by medical professionals", Type: TypeBoolean, Section: 5},
	{Key: BloodTransfusions, Label: "Blood transfusions if medically necessary", Type: TypeBoolean, Section: 5},
	{Key: DentalTreatment, Label: "Emergency dental treatment", Type: TypeBoolean, Section: 5},
	{Key: OtherAuthorization, Label: "Other (please specify)", Type: TypeBoolean, Section: 5},
	{Key: OtherSpecify, Label: "Please specify other authorizations", Type: TypeLongText, Section: 5},

	{Key: HasReceivedInfo, Label: "Yes, I have received and understood the information about this trial", Type: TypeBoolean, Required: true, Section: 6},
	{Key: ConsentConsent1, Label: "I consent to participate in this clinical trial", Type: TypeBoolean, Required: true, Section: 6},
	{Key: ConsentConsent2, Label: "I understand that my participation is voluntary", Type: TypeBoolean, Required: true, Section: 6},
	{Key: ConsentConsent3, Label: "I understand the risks and benefits", Type: TypeBoolean, Required: true, Section: 6},
	{Key: ConsentConsent4, Label: "I can withdraw at any time without prejudice to my care", Type: TypeBoolean, Required: true, Section: 6},
	{Key: ConsentConsent5, Label: "I consent to data collection and processing for research purposes", Type: TypeBoolean, Required: true, Section: 6},
	{Key: ConsentConsent6, Label: "I have received a copy of this consent form and information sheet", Type: TypeBoolean, Required: true, Section: 6},
	{Key: Signature, Label: "Digital Signature", Type: TypeShortText, Required: true, Section: 6},
	{Key: ConsentDate, Label: "Consent Date", Type: TypeDate, Required: true, Section: 6, DefaultToday: true},
	{Key: IsUCLAPatient, Label: "Are you a UCLA patient?", Type: TypeSingleChoice, Required: true, Section: 6, Options: []string{"yes", "no"}},
	{Key: Hospital, Label: "Hospital Location", Type: TypeSingleChoice, Required: true, Section: 6, Options: HospitalOptions},
}

var defaultSections = []SectionInfo{
	{Number: 1, Title: "Personal Information", Synonyms: []string{"personal information", "personal details", "basic information", "section 1"},
		Description: "This section collects your basic contact and identification information needed for study enrollment and communication."},
	{Number: 2, Title: "Emergency Contact", Synonyms: []string{"emergency contact", "section 2"},
		Description: "This section identifies someone we can contact in case of emergency during your participation in the study."},
	{Number: 3, Title: "Medical History", Synonyms: []string{"medical history", "medical information", "health history", "section 3"},
		Description: "This section gathers information about your health background to ensure the study is safe for you and to understand any factors that might affect the research."},
	{Number: 4, Title: "Healthcare Providers", Synonyms: []string{"healthcare provider", "medical care information", "insurance", "doctors", "section 4"},
		Description: "This section collects information about your current healthcare providers and health insurance for coordination of care and coverage during the study."},
	{Number: 5, Title: "Legal Authorization", Synonyms: []string{"legal authorization", "authorization", "authorisation", "section 5"},
		Description: "This section contains authorizations for various medical procedures that may be needed during the study."},
	{Number: 6, Title: "Final Consent", Synonyms: []string{"final consent", "consent section", "sign the form", "section 6"},
		Description: "This section contains the final consent agreements and your digital signature to complete enrollment."},
}

var (
	defaultSchemaOnce sync.Once
	defaultSchema     *Schema
)

// DefaultSchema returns the six-section trial consent form. It panics if the
// built-in definition is inconsistent, which is a programming error.
func DefaultSchema() *Schema {
	defaultSchemaOnce.Do(func() {
		s, err := NewSchema(defaultFields, defaultSections, defaultGuidance, HasReceivedInfo, PrimaryConsent)
		if err != nil {
			panic("consentform: built-in schema invalid: " + err.Error())
		}
		defaultSchema = s
	})
	return defaultSchema
}
