package testutil

import (
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasources/memory"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// Cohort is a small study fixture spread over two datasources.
//
//	cohort.participants  Participant 1..3   AGE, SEX, MOTHER_ID, WEIGHT
//	cohort.medications   Participant 1, 2   DRUG, DOSE (repeatable, group "meds")
//	cohort.mothers       Mother m1, m2      MOTHER_AGE
//	clinic.visits        Participant 1, 3   VISIT_DATE, CODES (repeatable)
type Cohort struct {
	Cohort       *memory.Datasource
	Clinic       *memory.Datasource
	Participants *memory.Table
	Medications  *memory.Table
	Mothers      *memory.Table
	Visits       *memory.Table
}

// NewCohort builds the fixture.
func NewCohort() *Cohort {
	participants := memory.NewTable("participants", "Participant",
		&core.Variable{Name: "AGE", ValueType: value.Integer, Unit: "years"},
		&core.Variable{Name: "SEX", ValueType: value.Text, Categories: []core.Category{
			{Name: "F"}, {Name: "M"}, {Name: "U", Missing: true},
		}},
		&core.Variable{Name: "MOTHER_ID", ValueType: value.Text},
		&core.Variable{Name: "WEIGHT", ValueType: value.Decimal, Unit: "kg"},
	)
	participants.
		MustSet("1", "AGE", value.Integer.MustCoerce(34)).
		MustSet("1", "SEX", value.Text.MustCoerce("F")).
		MustSet("1", "MOTHER_ID", value.Text.MustCoerce("m1")).
		MustSet("1", "WEIGHT", value.Decimal.MustCoerce(61.5)).
		MustSet("2", "AGE", value.Integer.MustCoerce(51)).
		MustSet("2", "SEX", value.Text.MustCoerce("M")).
		MustSet("2", "MOTHER_ID", value.Text.MustCoerce("m9")).
		MustSet("3", "SEX", value.Text.MustCoerce("U"))

	medications := memory.NewTable("medications", "Participant",
		&core.Variable{Name: "DRUG", ValueType: value.Text, Repeatable: true, OccurrenceGroup: "meds"},
		&core.Variable{Name: "DOSE", ValueType: value.Integer, Repeatable: true, OccurrenceGroup: "meds", Unit: "mg"},
	)
	medications.
		MustSet("1", "DRUG", mustSeq(value.Text, "A", "B", "C")).
		MustSet("1", "DOSE", mustSeq(value.Integer, 10, 20, 30)).
		MustSet("2", "DRUG", mustSeq(value.Text, "B")).
		MustSet("2", "DOSE", mustSeq(value.Integer, 5))

	mothers := memory.NewTable("mothers", "Mother",
		&core.Variable{Name: "MOTHER_AGE", ValueType: value.Integer},
	)
	mothers.
		MustSet("m1", "MOTHER_AGE", value.Integer.MustCoerce(60)).
		MustSet("m2", "MOTHER_AGE", value.Integer.MustCoerce(72))

	visits := memory.NewTable("visits", "Participant",
		&core.Variable{Name: "VISIT_DATE", ValueType: value.Date},
		&core.Variable{Name: "CODES", ValueType: value.Text, Repeatable: true},
	)
	visits.
		MustSet("1", "VISIT_DATE", value.Date.MustParse("2020-01-31")).
		MustSet("1", "CODES", mustSeq(value.Text, "X1", "X2")).
		MustSet("3", "VISIT_DATE", value.Date.MustParse("2021-06-15"))

	cohort := memory.NewDatasource("cohort")
	cohort.AddTable(participants)
	cohort.AddTable(medications)
	cohort.AddTable(mothers)

	clinic := memory.NewDatasource("clinic")
	clinic.AddTable(visits)

	return &Cohort{
		Cohort:       cohort,
		Clinic:       clinic,
		Participants: participants,
		Medications:  medications,
		Mothers:      mothers,
		Visits:       visits,
	}
}

// Datasources returns both datasources of the fixture.
func (c *Cohort) Datasources() []core.Datasource {
	return []core.Datasource{c.Cohort, c.Clinic}
}

// Get resolves the fixture datasources by name.
func (c *Cohort) Get(name string) (core.Datasource, error) {
	for _, ds := range c.Datasources() {
		if ds.Name() == name {
			return ds, nil
		}
	}
	return nil, &core.NoSuchDatasourceError{Name: name}
}

func mustSeq(t *value.Type, items ...any) value.Value {
	v, err := t.SequenceOf(items...)
	if err != nil {
		panic(err)
	}
	return v
}
