package conversation

import "fmt"

// State is a step of the conversation.
type State int

const (
	End                     State = -1
	ModeSelector            State = 1
	BuildPeriod             State = 4
	BuildPeriodQuantity     State = 5
	BuildFiltersYesNo       State = 6
	BuildFilters            State = 7
	BuildAggregateYesNo     State = 8
	BuildAggregate          State = 9
	BuildAggregateSumProp   State = 10
	SavedFilterSelect       State = 11
	CustomMgmtCommandSelect State = 12
)

var stateNames = map[State]string{
	End:                     "END",
	ModeSelector:            "MODE_SELECTOR",
	BuildPeriod:             "BUILD_PERIOD",
	BuildPeriodQuantity:     "BUILD_PERIOD_QUANTITY",
	BuildFiltersYesNo:       "BUILD_FILTERS_YES_NO",
	BuildFilters:            "BUILD_FILTERS",
	BuildAggregateYesNo:     "BUILD_AGGREGATE_YES_NO",
	BuildAggregate:          "BUILD_AGGREGATE",
	BuildAggregateSumProp:   "BUILD_AGGREGATE_SUM_PROPERTY",
	SavedFilterSelect:       "SAVED_FILTER_SELECT",
	CustomMgmtCommandSelect: "CUSTOM_MGMT_COMMAND_SELECT",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Button captions and fixed replies.
const (
	Yes = "Yes"
	No  = "No"

	ReplyModeSelect       = "How do you want to proceed"
	ReplyPeriodUnit       = "Please select the period unit"
	ReplyPeriodQuantity   = "Please enter the period quantity"
	ReplyQuantityTooLarge = "Period quantity is too large, please enter a smaller number"
	ReplyFiltersYesNo     = "Do you want to specify model filters?"
	ReplyProvideFilters   = "Provide model filters"
	ReplyAggregateYesNo   = "Do you want to specify model aggregate?"
	ReplySelectAggregate  = "Please select the aggregate"
	ReplySumProperty      = "Provide property to aggregate"
	ReplySelectSaved      = "Please select saved filter"
	ReplyNoSaved          = "No saved filters found for this command"
	ReplySelectCommand    = "Please select command"
	ReplyNoCommands       = "No custom commands found for this command"
	ReplyEnd              = "End of conversation"
	ReplyNothingFound     = "Nothing found."
	ReplyInvalidCommand   = "Invalid command"
	ReplyAvailableCommand = "Available commands:"
)
