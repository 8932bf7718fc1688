package job

// PreRunState - run created, nothing has happened yet
type PreRunState struct{}

func (s *PreRunState) Name() string { return "prerun" }
func (s *PreRunState) ToPending() *PendingState {
	return &PendingState{}
}
func (s *PreRunState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// PendingState - about to evaluate the repository guard
type PendingState struct{}

func (s *PendingState) Name() string { return "pending" }
func (s *PendingState) ToGuarding() *GuardingState {
	return &GuardingState{}
}
func (s *PendingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// GuardingState - checking the process acts for the canonical repository
type GuardingState struct{}

func (s *GuardingState) Name() string { return "guarding" }
func (s *GuardingState) ToCheckingOut() *CheckingOutState {
	return &CheckingOutState{}
}
func (s *GuardingState) ToSkipped() *SkippedState {
	return &SkippedState{}
}
func (s *GuardingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// CheckingOutState - cloning the default branch tip
type CheckingOutState struct{}

func (s *CheckingOutState) Name() string { return "checking_out" }
func (s *CheckingOutState) ToProvisioning() *ProvisioningState {
	return &ProvisioningState{}
}
func (s *CheckingOutState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *CheckingOutState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// ProvisioningState - creating the script environment
type ProvisioningState struct{}

func (s *ProvisioningState) Name() string { return "provisioning" }
func (s *ProvisioningState) ToInstalling() *InstallingState {
	return &InstallingState{}
}
func (s *ProvisioningState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *ProvisioningState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// InstallingState - installing the script dependency
type InstallingState struct{}

func (s *InstallingState) Name() string { return "installing" }
func (s *InstallingState) ToRefreshing() *RefreshingState {
	return &RefreshingState{}
}
func (s *InstallingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *InstallingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// RefreshingState - refresh script running with the credential
type RefreshingState struct{}

func (s *RefreshingState) Name() string { return "refreshing" }
func (s *RefreshingState) ToInspecting() *InspectingState {
	return &InspectingState{}
}
func (s *RefreshingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *RefreshingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// InspectingState - comparing the tracked file with the checkout
type InspectingState struct{}

func (s *InspectingState) Name() string { return "inspecting" }
func (s *InspectingState) ToPublishing() *PublishingState {
	return &PublishingState{}
}
func (s *InspectingState) ToCompleted() *CompletedState {
	return &CompletedState{}
}
func (s *InspectingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *InspectingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// PublishingState - branch, commit, push and pull request
type PublishingState struct{}

func (s *PublishingState) Name() string { return "publishing" }
func (s *PublishingState) ToCompleted() *CompletedState {
	return &CompletedState{}
}
func (s *PublishingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *PublishingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// Terminal States

// CompletedState - completed successfully, with or without a pull request
type CompletedState struct{}

func (s *CompletedState) Name() string { return "completed" }

// SkippedState - guard failed, nothing was done
type SkippedState struct{}

func (s *SkippedState) Name() string { return "skipped" }

// FailedState - a step failed
type FailedState struct{}

func (s *FailedState) Name() string { return "failed" }

// CancelledState - cancelled or timed out
type CancelledState struct{}

func (s *CancelledState) Name() string { return "cancelled" }
