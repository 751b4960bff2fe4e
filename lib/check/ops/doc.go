// Package ops defines the values and update operations of a check run.
//
// PopulateValue and ExerciseValue derive the value written at an index
// from the index alone. The Selector assigns every index and thread one of
// the catalogued UpdateOpTypes, and UpdateOpType.Result gives the value a
// key holds after the op ran on a given previous value.
package ops
