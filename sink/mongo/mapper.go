package mongo

import (
	"fmt"

	"github.com/pickme-go/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Tuple is a named, ordered set of values such as a merged join result.
type Tuple interface {
	Fields() []string
	Values() []interface{}
}

// FilterCreator builds the query selecting the documents to update.
type FilterCreator func(in Tuple) (interface{}, error)

// UpdateMapper builds the update document applied to the selected documents.
type UpdateMapper func(in Tuple) (interface{}, error)

// SetFields maps the named fields of a tuple to a $set update. Every field is
// set when no names are given.
func SetFields(fields ...string) UpdateMapper {
	return func(in Tuple) (interface{}, error) {
		values, err := lookup(in, fields...)
		if err != nil {
			return nil, err
		}

		return bson.D{{Key: `$set`, Value: values}}, nil
	}
}

// FilterByField selects documents whose as attribute equals the tuple's field.
func FilterByField(field, as string) FilterCreator {
	return func(in Tuple) (interface{}, error) {
		values, err := lookup(in, field)
		if err != nil {
			return nil, err
		}

		return bson.D{{Key: as, Value: values[0].Value}}, nil
	}
}

func lookup(in Tuple, fields ...string) (bson.D, error) {
	names, values := in.Fields(), in.Values()
	if len(names) != len(values) {
		return nil, errors.New(fmt.Sprintf(`tuple has %d fields but %d values`, len(names), len(values)))
	}

	if len(fields) == 0 {
		fields = names
	}

	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		found := false
		for i, name := range names {
			if name == f {
				doc = append(doc, bson.E{Key: f, Value: values[i]})
				found = true
				break
			}
		}

		if !found {
			return nil, errors.New(fmt.Sprintf(`field [%s] does not exist in tuple`, f))
		}
	}

	return doc, nil
}
