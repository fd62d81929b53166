// Package unitofwork groups the repositories of one DBContext.
//
// A UnitOfWork caches exactly one repository per requested type for its lifetime: generic repositories
// (RepositoryOf) and custom repositories (CustomRepositoryOf) resolved from registered Factories.
// SaveChanges and the transaction operations delegate to the owned DBContext, so every repository
// of a UnitOfWork shares one command buffer and one session.
//
// Example:
//
//	uow := unitofwork.New(dbctx)
//	books := unitofwork.RepositoryOf[*Book](uow)
//	_, _ = books.Insert(ctx, &Book{ID: docstore.NewDocumentID(), Title: "Dune"})
//	results, err := uow.SaveChanges(ctx)
package unitofwork
