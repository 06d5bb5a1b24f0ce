package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// FilterOrderings drops orderings on fields that are not allowed; `allowed` maps API fields to DB columns.
func FilterOrderings(orderings []DBOrdering, allowed map[string]string) []DBOrdering {
	clean := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if col, ok := allowed[ord.Field]; ok {
			clean = append(clean, DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return clean
}
