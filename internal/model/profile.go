package model

// AgeGroup buckets students for matching with tutors.
type AgeGroup int

const (
	AgeGroupChild AgeGroup = 1
	AgeGroupTeen  AgeGroup = 2
	AgeGroupAdult AgeGroup = 3
)

// Language is the teaching language preference.
type Language int

const (
	LanguageArabic  Language = 1
	LanguageEnglish Language = 2
	LanguageAll     Language = 3
)

// HefzMethod is how memorization sessions are held.
type HefzMethod int

const (
	HefzVoice HefzMethod = 1
	HefzVideo HefzMethod = 2
	HefzReal  HefzMethod = 3
)

// EjazaType is the kind of teaching licence a tutor holds.
type EjazaType int

const (
	EjazaQuran  EjazaType = 1
	EjazaHadith EjazaType = 2
	EjazaBoth   EjazaType = 3
)

// StudentProfile mirrors the `student_profiles` table: the preferences a
// normal user fills in at registration.
type StudentProfile struct {
	ID               uint64     `json:"id"`
	AvailableMinutes int        `json:"availableMinutes"`
	AgeGroup         AgeGroup   `json:"ageGroup"`
	LevelAtQuran     int        `json:"levelAtQuran"`
	NumberPerWeek    int        `json:"numberPerWeek"`
	TimeForEverytime int        `json:"timeForEverytime"`
	Language         Language   `json:"language"`
	MethodForHefz    HefzMethod `json:"methodForHefz"`
	IsPaid           bool       `json:"isPaid"`
	IsFirstTime      bool       `json:"isFirstTime"`
}

// DefaultStudentProfile returns the profile used when registration omits
// preferences.
func DefaultStudentProfile() StudentProfile {
	return StudentProfile{
		AgeGroup:         AgeGroupAdult,
		LevelAtQuran:     1,
		NumberPerWeek:    1,
		TimeForEverytime: 30,
		Language:         LanguageArabic,
		MethodForHefz:    HefzVoice,
		IsFirstTime:      true,
	}
}

// TutorProfile mirrors the `tutor_profiles` table: the credentials a
// Mohafez applicant submits for admin review.
type TutorProfile struct {
	ID                  uint64    `json:"id"`
	ArabicName          string    `json:"arabicName,omitempty"`
	Summary             string    `json:"summery"`
	Ejaza               string    `json:"ejaza"`
	EjazaType           EjazaType `json:"myEjazaEnum"`
	Degree              int       `json:"degree"`
	IsAvailable         bool      `json:"isAvailable"`
	Language            Language  `json:"language"`
	PhoneNumber         string    `json:"phoneNumber,omitempty"`
	WhatsappPhoneNumber string    `json:"whatsappPhoneNumber,omitempty"`
}
