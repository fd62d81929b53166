// Package docstore provides the core abstractions of a client-side access layer for document databases
// with shared resources, admission control and unit-of-work batching.
//
// This package defines the types shared by all other packages: the driver surface a document database
// engine must implement, the query descriptor handed to that engine, per-context options, the
// asynchronous Future shape, the observability interfaces and the common error definitions.
//
// Key types:
//   - ContextOptions: per-context configuration (context id, deferred writes, admission-control bound)
//   - Driver, Client, Database, Collection, Session: the driver surface
//   - Filter, Query: declarative query descriptors
//   - Future: the result of an asynchronous operation
//
// Common usage pattern:
//
//	options, _ := docstore.NewContextOptions("library", docstore.WithMaxConcurrentRequests(8))
//
//	driver, _ := postgresengine.NewDriver()
//	manager, _ := registry.NewResourceManager(driver)
//	dbCtx, _ := dbcontext.New(ctx, manager, registry.ConnectionRequest{
//		ClientConfig: clientConfig,
//		DatabaseName: "library",
//		Options:      options,
//	})
//
//	uow, _ := unitofwork.New(dbCtx)
//	books := unitofwork.RepositoryOf[*Book](uow)
//	_, _ = books.Insert(ctx, book)
//	results, err := uow.SaveChanges(ctx)
package docstore
