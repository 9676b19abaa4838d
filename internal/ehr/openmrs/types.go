package openmrs

// Wire types for the subset of the OpenMRS REST API the connector
// consumes. Fields not read by the workflow are omitted.

// restRef is the short reference representation most list endpoints return
type restRef struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

type refResults struct {
	Results []restRef `json:"results"`
}

type restPatient struct {
	UUID        string `json:"uuid"`
	Display     string `json:"display"`
	Identifiers []struct {
		Identifier string `json:"identifier"`
	} `json:"identifiers"`
	Person struct {
		Gender        string `json:"gender"`
		Birthdate     string `json:"birthdate"`
		PreferredName struct {
			GivenName  string `json:"givenName"`
			FamilyName string `json:"familyName"`
		} `json:"preferredName"`
	} `json:"person"`
}

type patientResults struct {
	Results []restPatient `json:"results"`
}

type restVisit struct {
	UUID          string   `json:"uuid"`
	StartDatetime string   `json:"startDatetime"`
	StopDatetime  *string  `json:"stopDatetime"`
	Location      *restRef `json:"location"`
	Patient       *restRef `json:"patient"`
}

type visitResults struct {
	Results []restVisit `json:"results"`
}

type restEncounter struct {
	UUID              string   `json:"uuid"`
	EncounterDatetime string   `json:"encounterDatetime"`
	Patient           *restRef `json:"patient"`
	Visit             *restRef `json:"visit"`
	EncounterType     *restRef `json:"encounterType"`
	Location          *restRef `json:"location"`
}

type restObs struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

type idgenOptionResults struct {
	Results []struct {
		Source                     restRef `json:"source"`
		AutomaticGenerationEnabled bool    `json:"automaticGenerationEnabled"`
	} `json:"results"`
}

type generatedIdentifier struct {
	Identifier string `json:"identifier"`
}

// restDiagnosis is the emrapi patientdiagnoses response
type restDiagnosis struct {
	UUID      string `json:"uuid"`
	Display   string `json:"display"`
	Certainty string `json:"certainty"`
	Rank      int    `json:"rank"`
}
