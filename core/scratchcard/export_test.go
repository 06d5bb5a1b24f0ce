package scratchcard

// SetPinGenerator replaces the PIN source, e.g. to force collisions.
func (svc *Service) SetPinGenerator(gen func() (string, error)) {
	svc.newPin = gen
}
