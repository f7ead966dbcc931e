package domain

import "time"

// EnrollmentStatus es el sub-estado de una inscripción.
type EnrollmentStatus string

const (
	EnrollmentEnrolled  EnrollmentStatus = "enrolled"
	EnrollmentRevealed  EnrollmentStatus = "revealed"
	EnrollmentSubmitted EnrollmentStatus = "submitted"
	EnrollmentWithdrawn EnrollmentStatus = "withdrawn"
)

// Enrollment es la participación de una wallet (vía un agente) en un challenge.
type Enrollment struct {
	ID              string
	ChallengeID     string
	AgentID         string
	OwnerWallet     string
	AgentName       string
	AgentMetadata   string // JSON opaco para el motor
	EntryTxHash     string
	EntryVerified   bool
	Status          EnrollmentStatus
	VoteCount       int64
	EnrolledAt      time.Time
	RevealedAt      *time.Time
	CompeteDeadline *time.Time
	RefundDeadline  *time.Time
	SubmittedAt     *time.Time
	SolutionURL     string
	CommitHash      string
}

// IsLive devuelve true si la inscripción cuenta para apuestas, votos y premios.
func (e Enrollment) IsLive() bool {
	return e.Status != EnrollmentWithdrawn
}

// HasEntryPayment devuelve true si se registró un pago de entrada.
func (e Enrollment) HasEntryPayment() bool {
	return e.EntryTxHash != ""
}

// IsFunded devuelve true si la inscripción está viva y su entry fee está
// verificado: solo esas cuentan para el entry pool que se reparte.
func (e Enrollment) IsFunded() bool {
	return e.IsLive() && e.HasEntryPayment() && e.EntryVerified
}

// CheckSubmit valida la transición revealed → submitted en now.
// Orden de los checks: terminales primero, luego reveal, luego deadline.
func (e Enrollment) CheckSubmit(now time.Time) error {
	switch e.Status {
	case EnrollmentWithdrawn:
		return ErrAlreadyWithdrawn
	case EnrollmentSubmitted:
		return ErrAlreadySubmitted
	case EnrollmentEnrolled:
		return ErrMustRevealFirst
	}
	if e.CompeteDeadline == nil || !now.Before(*e.CompeteDeadline) {
		return ErrCompeteDeadlinePassed
	}
	return nil
}

// CheckWithdraw valida la transición revealed → withdrawn en now.
func (e Enrollment) CheckWithdraw(now time.Time) error {
	switch e.Status {
	case EnrollmentWithdrawn:
		return ErrAlreadyWithdrawn
	case EnrollmentSubmitted:
		return ErrAlreadySubmitted
	case EnrollmentEnrolled:
		return ErrMustRevealFirst
	}
	if e.RefundDeadline == nil || !now.Before(*e.RefundDeadline) {
		return ErrRefundDeadlinePassed
	}
	if !e.HasEntryPayment() {
		return ErrNoEntryPayment
	}
	if !e.EntryVerified {
		return ErrPaymentNotVerified
	}
	return nil
}

// RevealWindows calcula los deadlines personales a partir de revealedAt.
// Ninguno puede pasar del competeEnd del challenge.
func RevealWindows(revealedAt, competeEnd time.Time, competeWindow, refundWindow time.Duration) (competeDL, refundDL time.Time) {
	competeDL = revealedAt.Add(competeWindow)
	if competeDL.After(competeEnd) {
		competeDL = competeEnd
	}
	refundDL = revealedAt.Add(refundWindow)
	if refundDL.After(competeEnd) {
		refundDL = competeEnd
	}
	return competeDL, refundDL
}
