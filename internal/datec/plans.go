package datec

// Plans describes every saga the core runs, in a stable order.
func Plans() []PlanInfo {
	return []PlanInfo{
		createPlan.info(),
		updatePlan.info(),
		clonePlan.info(),
		deletePlan.info(),
		reviewPlan.info(),
		visibilityPlan.info(),
		requestApprovalPlan.info(),
		downloadPlan.info(),
		registerPlan.info(),
		followPlan.info(),
	}
}
