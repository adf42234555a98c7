// Package pathquery models queries over a layered key/value tree.
//
// A PathQuery names a layer by its path (a sequence of key segments) and
// selects keys in that layer with a Query. Beneath every matched key the
// query may descend further: the default SubqueryBranch applies to every key
// unless a ConditionalBranch whose item contains the key overrides it. This
// is how cursor pagination is expressed across several index levels: the
// cursor's own value at a level gets a conditional branch that resumes from
// the cursor, while every other value gets the unconditional branch.
//
// The package is pure data. Execution lives in the grove package.
package pathquery
