// Package livequery executes GraphQL documents once, as live queries, or as
// subscriptions, behind one Stream interface.
//
// A live query is a query operation marked with the @live directive:
//
//	query Notes @live { noteCount }
//
// The Store executes it, remembers which identifiers the execution touched
// and re-executes it whenever a producer invalidates one of them:
//
//	store.Invalidate("Query.noteCount")
//
// Every root field contributes "Query.<field>" automatically. Resolvers
// report finer-grained identifiers with Touch:
//
//	livequery.Touch(p.Context, "Note:"+id)
//
// Each execution of a registration takes a new version. A result is handed
// to the Stream only if no newer execution started while it was running, so
// a slow, superseded execution can never overwrite a newer result.
package livequery
