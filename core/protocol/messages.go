package protocol

// AddUser registers the driver's presence on the connection.
type AddUser struct {
	ID string `json:"id"`
}

func (AddUser) EventName() string { return EventAddUser }

// PlaceBid offers a fare for a ride request.
type PlaceBid struct {
	RiderID       string  `json:"riderId"`
	RideRequestID string  `json:"rideRequestId"`
	Price         float64 `json:"price"`
	StartType     string  `json:"startType,omitempty"`
}

func (PlaceBid) EventName() string { return EventPlaceBid }

// UpdateRiderLocation pushes the driver's position. The server answers with
// an ack carrying {success: bool}.
type UpdateRiderLocation struct {
	RiderID    string  `json:"riderId"`
	CustomerID string  `json:"customerId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

func (UpdateRiderLocation) EventName() string { return EventUpdateLocation }

// RideStarted tells the passenger side that the trip began.
type RideStarted struct {
	RideID        string `json:"rideId"`
	GenericUserID string `json:"genericUserId"`
}

func (RideStarted) EventName() string { return EventRideStarted }

// RideCompleted tells the passenger side that the trip ended.
type RideCompleted struct {
	RideID        string `json:"rideId"`
	GenericUserID string `json:"genericUserId"`
}

func (RideCompleted) EventName() string { return EventRideCompleted }
