package models

// Terms is the versioned terms-of-service text at appConfig/terms.
type Terms struct {
	ID      string `bson:"_id" json:"-"`
	Version string `bson:"version" json:"version"`
	Text    string `bson:"text" json:"text"`
}
