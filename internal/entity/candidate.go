package entity

// Experience is one work-history entry tied to a CV.
type Experience struct {
	Title       *string `json:"title"`
	Company     *string `json:"company"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	Description *string `json:"description"`
}

// Education is one education entry tied to a CV.
type Education struct {
	Institution *string `json:"institution"`
	Degree      *string `json:"degree"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
}
