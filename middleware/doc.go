// Package middleware hosts the request lifecycle on gin: an ordered
// interceptor pipeline with a request scoped unit of work, the retrying
// transaction interceptor, entity auditing, problem responses, request ids
// and bearer identity.
//
//	p := middleware.NewPipeline(database.NewRequestUnitOfWork,
//		middleware.Transaction(middleware.DefaultTransactionOptions()),
//		middleware.Audit(nil))
//	router.POST("/orders", p.Handle(createOrder))
//	router.POST("/reports", p.Handle(buildReport, middleware.DisableTransaction))
package middleware
