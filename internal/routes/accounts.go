package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/school-records/school_records/internal/account"
)

// RegisterAccountRoutes wires identity and student endpoints. The provisioning
// handlers run in front of every creating request.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler, provisioning ...fiber.Handler) {
	identities := r.Group("/identities")
	identities.Post("/", chain(provisioning, h.CreateIdentity)...)
	identities.Get("/exists", h.Exists)
	identities.Get("/:id", h.GetIdentity)
	identities.Put("/:id/password", h.UpdatePassword)
	identities.Delete("/:id", h.DeactivateIdentity)

	students := r.Group("/students")
	students.Post("/", chain(provisioning, h.CreateStudent)...)
	students.Get("/", h.ListStudents)
	students.Get("/count", h.CountStudents)
	students.Get("/by-number/:number", h.GetStudentByNumber)
	students.Get("/:id", h.GetStudent)
	students.Put("/:id", h.UpdateStudent)
	students.Delete("/:id", h.DeactivateStudent)
}

func chain(before []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(before)+1)
	out = append(out, before...)
	return append(out, h)
}
