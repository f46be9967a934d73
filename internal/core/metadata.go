package core

import "strconv"

// Coalesce returns m with every null field filled from candidate. Non-null
// fields of m are never replaced: the first writer of a field wins.
func (m Metadata) Coalesce(candidate Metadata) Metadata {
	if !m.Carrier.Valid {
		m.Carrier = candidate.Carrier
	}
	if !m.Gender.Valid {
		m.Gender = candidate.Gender
	}
	if !m.BirthYear.Valid {
		m.BirthYear = candidate.BirthYear
	}
	if !m.Age.Valid {
		m.Age = candidate.Age
	}
	if !m.Region.Valid {
		m.Region = candidate.Region
	}
	return m
}

// IsEmpty reports whether no field is set.
func (m Metadata) IsEmpty() bool {
	return !m.Carrier.Valid && !m.Gender.Valid && !m.BirthYear.Valid && !m.Age.Valid && !m.Region.Valid
}

// Value returns the textual value of a field and whether it is set.
func (m Metadata) Value(f Field) (string, bool) {
	switch f {
	case FieldCarrier:
		return m.Carrier.String, m.Carrier.Valid
	case FieldGender:
		return m.Gender.String, m.Gender.Valid
	case FieldBirthYear:
		return strconv.Itoa(int(m.BirthYear.Int32)), m.BirthYear.Valid
	case FieldAge:
		return strconv.Itoa(int(m.Age.Int32)), m.Age.Valid
	case FieldRegion:
		return m.Region.String, m.Region.Valid
	}
	return "", false
}

// Set assigns a field from a cleaned value. Integer fields that do not parse
// stay null.
func (m *Metadata) Set(f Field, value string) {
	switch f {
	case FieldCarrier:
		m.Carrier = ToText(value)
	case FieldGender:
		m.Gender = ToText(value)
	case FieldBirthYear:
		m.BirthYear = ToInt4(value)
	case FieldAge:
		m.Age = ToInt4(value)
	case FieldRegion:
		m.Region = ToText(value)
	}
}

// ValidField reports whether f names a metadata column.
func ValidField(f Field) bool {
	for _, known := range MetadataFields {
		if f == known {
			return true
		}
	}
	return false
}
